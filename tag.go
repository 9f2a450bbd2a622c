package restate

// Tagged is anything carrying type-safe metadata. Specs and containers
// both implement it.
type Tagged interface {
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
}

// Tag is a type-safe key for metadata
type Tag[T any] struct {
	key string
}

// NewTag creates a new tag with the given key
func NewTag[T any](key string) Tag[T] {
	return Tag[T]{key: key}
}

// Key returns the tag's key (for debugging)
func (t Tag[T]) Key() string {
	return t.key
}

// Get retrieves the tag value from a tagged target
func (t Tag[T]) Get(target Tagged) (T, bool) {
	val, ok := target.GetTag(t)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// MustGet retrieves the tag value or panics if not found
func (t Tag[T]) MustGet(target Tagged) T {
	val, ok := t.Get(target)
	if !ok {
		panic("tag " + t.key + " not found")
	}
	return val
}

// GetOrDefault retrieves the tag value or returns a default
func (t Tag[T]) GetOrDefault(target Tagged, defaultVal T) T {
	if val, ok := t.Get(target); ok {
		return val
	}
	return defaultVal
}

// Set stores the tag value on a tagged target
func (t Tag[T]) Set(target Tagged, val T) {
	target.SetTag(t, val)
}
