package bridge

// stateChanged reports whether applying candidate to current would
// change any leaf value. Keys absent from candidate are ignored, so a
// partial update compares only the attributes it touches.
//
// The comparison is structural and order-irrelevant for maps. Numeric
// leaves compare by value across numeric types, since the same payload
// may arrive as int from Go code and float64 from decoded JSON.
//
// Both directions of the pipeline gate on this: repeated application of
// an already-applied state is a no-op at the protocol and flow call
// sites alike.
func stateChanged(current, candidate map[string]any) bool {
	for key, value := range candidate {
		existing, ok := current[key]
		if !ok {
			return true
		}
		if ValueChanged(existing, value) {
			return true
		}
	}
	return false
}

// ValueChanged reports whether two attribute values differ structurally.
func ValueChanged(current, candidate any) bool {
	return !valuesEqual(current, candidate)
}

// valuesEqual compares two values deeply, normalizing numeric types.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for key, value := range va {
			other, ok := vb[key]
			if !ok || !valuesEqual(value, other) {
				return false
			}
		}
		return true

	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !valuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true

	default:
		return a == b
	}
}

// asFloat converts any numeric type to float64 for comparison.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
