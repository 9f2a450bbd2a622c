package restate

import "reflect"

// Equal compares two property values. Writes whose old and new values compare
// equal are dropped before any snapshot replacement or notification.
type Equal func(a, b any) bool

// EqualityConfig selects comparison functions per property. A nil config (or
// a config with no entries) means identity comparison everywhere, which is
// the fast path.
type EqualityConfig struct {
	// Default applies to every property without a dedicated entry.
	Default Equal
	// Props overrides the default for individual properties.
	Props map[string]Equal
}

// Identity compares by reference identity: comparable values with ==, slices
// and maps by their underlying storage.
func Identity() Equal { return identityEqual }

// Shallow compares maps and slices one level deep (elements by identity);
// everything else falls back to identity.
func Shallow() Equal { return shallowEqual }

// Deep compares with reflect.DeepEqual.
func Deep() Equal {
	return func(a, b any) bool { return reflect.DeepEqual(a, b) }
}

// identityEqual is the reference-identity comparison. It never panics on
// uncomparable operands, unlike a raw == on two any values.
func identityEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	if ra.Type().Comparable() {
		return a == b
	}
	switch ra.Kind() {
	case reflect.Slice:
		return ra.Len() == rb.Len() && (ra.Len() == 0 || ra.Pointer() == rb.Pointer())
	case reflect.Map, reflect.Func:
		return ra.Pointer() == rb.Pointer()
	}
	return false
}

func shallowEqual(a, b any) bool {
	if identityEqual(a, b) {
		return true
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() || ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Slice:
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !identityEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.Map:
		if ra.Len() != rb.Len() {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			bv := rb.MapIndex(iter.Key())
			if !bv.IsValid() || !identityEqual(iter.Value().Interface(), bv.Interface()) {
				return false
			}
		}
		return true
	}
	return false
}

// equalityFor resolves a config into a per-property lookup.
func equalityFor(cfg *EqualityConfig) func(prop string) Equal {
	if cfg == nil || (cfg.Default == nil && len(cfg.Props) == 0) {
		return func(string) Equal { return identityEqual }
	}
	def := cfg.Default
	if def == nil {
		def = identityEqual
	}
	return func(prop string) Equal {
		if eq, ok := cfg.Props[prop]; ok && eq != nil {
			return eq
		}
		return def
	}
}
