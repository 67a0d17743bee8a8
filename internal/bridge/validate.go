package bridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// semanticKind discriminates the closed set of value semantics.
type semanticKind int

const (
	kindNumber semanticKind = iota
	kindBoolean
	kindPercent
	kindEnum
)

// Semantic describes the expected shape of an inbound value.
type Semantic struct {
	kind    semanticKind
	allowed []string
}

// The closed semantic set. Enum semantics are built per call site with
// SemanticEnum.
var (
	SemanticNumber  = Semantic{kind: kindNumber}
	SemanticBoolean = Semantic{kind: kindBoolean}
	SemanticPercent = Semantic{kind: kindPercent}
)

// SemanticEnum expects one of the given string values.
func SemanticEnum(values ...string) Semantic {
	return Semantic{kind: kindEnum, allowed: values}
}

func (s Semantic) String() string {
	switch s.kind {
	case kindNumber:
		return "number"
	case kindBoolean:
		return "boolean"
	case kindPercent:
		return "percent"
	case kindEnum:
		return fmt.Sprintf("enum{%s}", strings.Join(s.allowed, ","))
	default:
		return "unknown"
	}
}

// Normalize coerces a raw inbound value to its expected semantic.
//
// Flow payloads are ad hoc, so the coercions are deliberately liberal:
// numbers accept any numeric Go type, json.Number and numeric strings;
// booleans additionally accept 0/1 and on/off style strings. Percent
// values must be whole numbers in [0, 100]; out-of-range or fractional
// values fail rather than clamp or truncate, so upstream errors stay
// visible.
//
// The returned value is float64 for numeric semantics, bool for boolean
// and string for enum. Failures wrap ErrInvalidValue naming the expected
// semantic and the received value.
func Normalize(v any, sem Semantic) (any, error) {
	switch sem.kind {
	case kindNumber:
		return normalizeNumber(v, sem)

	case kindPercent:
		n, err := normalizeNumber(v, sem)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 100 || n != math.Trunc(n) {
			return nil, invalidValue(sem, v)
		}
		return n, nil

	case kindBoolean:
		return normalizeBoolean(v, sem)

	case kindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, invalidValue(sem, v)
		}
		for _, allowed := range sem.allowed {
			if s == allowed {
				return s, nil
			}
		}
		return nil, invalidValue(sem, v)

	default:
		return nil, invalidValue(sem, v)
	}
}

func normalizeNumber(v any, sem Semantic) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalidValue(sem, v)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, invalidValue(sem, v)
		}
		return f, nil
	default:
		return 0, invalidValue(sem, v)
	}
}

func normalizeBoolean(v any, sem Semantic) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
		return false, invalidValue(sem, v)
	default:
		// 0/1 numerics
		n, err := normalizeNumber(v, sem)
		if err != nil {
			return false, invalidValue(sem, v)
		}
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return false, invalidValue(sem, v)
	}
}

func invalidValue(sem Semantic, v any) error {
	return fmt.Errorf("%w: expected %s, received %v (%T)", ErrInvalidValue, sem, v, v)
}
