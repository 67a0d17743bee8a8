package matter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store persists endpoint attribute state and commissioned fabric
// records across bridge restarts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// SaveAttribute upserts the last committed value of one attribute.
	SaveAttribute(ctx context.Context, endpointID, attribute string, value any) error

	// LoadAttributes returns all persisted attribute values for one
	// endpoint. Unknown endpoints return an empty map.
	LoadAttributes(ctx context.Context, endpointID string) (map[string]any, error)

	// SaveFabric records a commissioned fabric.
	SaveFabric(ctx context.Context, fabricID, label string) error

	// ListFabrics returns the ids of all commissioned fabrics.
	ListFabrics(ctx context.Context) ([]string, error)
}

// SQLiteStore implements Store on the bridge database.
//
// It uses the endpoint_state and fabrics tables created by the
// embedded migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store backed by an open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging store: %w", err)
	}
	return nil
}

// SaveAttribute upserts one attribute value, JSON-encoded.
func (s *SQLiteStore) SaveAttribute(ctx context.Context, endpointID, attribute string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling attribute value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoint_state (device_id, attribute, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, attribute) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		endpointID,
		attribute,
		string(valueJSON),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving attribute: %w", err)
	}
	return nil
}

// LoadAttributes returns all persisted attributes for one endpoint.
func (s *SQLiteStore) LoadAttributes(ctx context.Context, endpointID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT attribute, value FROM endpoint_state WHERE device_id = ?",
		endpointID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying endpoint state: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]any)
	for rows.Next() {
		var attribute, valueJSON string
		if err := rows.Scan(&attribute, &valueJSON); err != nil {
			return nil, fmt.Errorf("scanning endpoint state: %w", err)
		}

		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("unmarshalling attribute %q: %w", attribute, err)
		}
		attrs[attribute] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoint state: %w", err)
	}
	return attrs, nil
}

// SaveFabric records a commissioned fabric, ignoring duplicates.
func (s *SQLiteStore) SaveFabric(ctx context.Context, fabricID, label string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fabrics (fabric_id, label, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (fabric_id) DO NOTHING`,
		fabricID,
		label,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving fabric: %w", err)
	}
	return nil
}

// ListFabrics returns all commissioned fabric ids.
func (s *SQLiteStore) ListFabrics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT fabric_id FROM fabrics ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("querying fabrics: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning fabric: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fabrics: %w", err)
	}
	return ids, nil
}

// MemoryStore implements Store entirely in memory. Used in tests and
// when running without a database.
type MemoryStore struct {
	mu      sync.Mutex
	attrs   map[string]map[string]any
	fabrics []string
	seen    map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attrs: make(map[string]map[string]any),
		seen:  make(map[string]bool),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// SaveAttribute stores one attribute value.
func (s *MemoryStore) SaveAttribute(_ context.Context, endpointID, attribute string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attrs[endpointID] == nil {
		s.attrs[endpointID] = make(map[string]any)
	}
	s.attrs[endpointID][attribute] = value
	return nil
}

// LoadAttributes returns a copy of the stored attributes.
func (s *MemoryStore) LoadAttributes(_ context.Context, endpointID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := make(map[string]any, len(s.attrs[endpointID]))
	for name, value := range s.attrs[endpointID] {
		cpy[name] = value
	}
	return cpy, nil
}

// SaveFabric records a fabric id, ignoring duplicates.
func (s *MemoryStore) SaveFabric(_ context.Context, fabricID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seen[fabricID] {
		s.seen[fabricID] = true
		s.fabrics = append(s.fabrics, fabricID)
	}
	return nil
}

// ListFabrics returns the recorded fabric ids.
func (s *MemoryStore) ListFabrics(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(s.fabrics))
	copy(ids, s.fabrics)
	return ids, nil
}
