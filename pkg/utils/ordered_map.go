package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MapEntry is a single key/value pair, used both to seed an OrderedMap in bulk
// and to hand back its contents without losing insertion order.
type MapEntry[K comparable, V any] struct {
	Key   K
	Value V
}

// OrderedMap behaves like a Go map but remembers the order keys were first
// inserted in, so that iterating it twice (even across process runs) always
// visits entries in the same sequence. Plain Go maps intentionally randomize
// iteration order, which makes them unusable for anything that must produce
// reproducible output (e.g. a compiler emitting the same code for the same
// input every time).
type OrderedMap[K comparable, V any] struct {
	index   map[K]int
	entries []MapEntry[K, V]
}

// NewOrderedMapFromList builds an OrderedMap preserving the order of 'list'.
// Later entries with a duplicate key overwrite earlier ones in place, keeping
// the position of the first occurrence (same semantics as repeated Set calls).
func NewOrderedMapFromList[K comparable, V any](list []MapEntry[K, V]) OrderedMap[K, V] {
	om := OrderedMap[K, V]{index: make(map[K]int, len(list))}
	for _, entry := range list {
		om.Set(entry.Key, entry.Value)
	}
	return om
}

// Set inserts 'value' under 'key', or overwrites it in place if already present.
func (om *OrderedMap[K, V]) Set(key K, value V) {
	if om.index == nil {
		om.index = map[K]int{}
	}

	if i, found := om.index[key]; found {
		om.entries[i].Value = value
		return
	}

	om.index[key] = len(om.entries)
	om.entries = append(om.entries, MapEntry[K, V]{Key: key, Value: value})
}

// Get looks up 'key', returning the zero value and false if absent.
func (om *OrderedMap[K, V]) Get(key K) (V, bool) {
	if i, found := om.index[key]; found {
		return om.entries[i].Value, true
	}
	var zero V
	return zero, false
}

// Size returns the number of entries currently stored.
func (om *OrderedMap[K, V]) Size() int { return len(om.entries) }

// Entries returns the stored values in insertion order.
func (om *OrderedMap[K, V]) Entries() []V {
	values := make([]V, 0, len(om.entries))
	for _, entry := range om.entries {
		values = append(values, entry.Value)
	}
	return values
}

// Keys returns the stored keys in insertion order.
func (om *OrderedMap[K, V]) Keys() []K {
	keys := make([]K, 0, len(om.entries))
	for _, entry := range om.entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

// UnmarshalJSON decodes a JSON object into the map, preserving the key order
// of the source document (encoding/json reports object keys through Token()
// in document order, unlike decoding straight into a Go map). K must be a
// string-backed type; this is only ever instantiated with K = string (the
// embedded standard-library ABI table), so that constraint is enforced at
// decode time rather than in the type signature.
func (om *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	open, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := open.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("utils.OrderedMap: expected a JSON object, got %v", open)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		keyStr, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("utils.OrderedMap: expected a string object key, got %v", keyTok)
		}
		key, ok := any(keyStr).(K)
		if !ok {
			return fmt.Errorf("utils.OrderedMap: key type %T is not string-backed, cannot decode from JSON", key)
		}

		var value V
		if err := dec.Decode(&value); err != nil {
			return err
		}
		om.Set(key, value)
	}

	return nil
}
