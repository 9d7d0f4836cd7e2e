package envelope

import (
	"bytes"
	"encoding/json"
)

var jsonNull = []byte("null")

// Nullable is a field with three states: absent, explicit null, or a value.
// Absent fields are omitted with `omitzero`; explicit null is serialised
// as JSON null so the remote clears the field.
type Nullable[T any] struct {
	value T
	valid bool
	null  bool
}

// Value returns a Nullable holding v.
func Value[T any](v T) Nullable[T] {
	return Nullable[T]{value: v, valid: true}
}

// Null returns an explicit null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{null: true}
}

// IsZero reports whether the field is absent.
func (n Nullable[T]) IsZero() bool {
	return !n.valid && !n.null
}

// IsNull reports whether the field is an explicit null.
func (n Nullable[T]) IsNull() bool {
	return n.null
}

// Get returns the value and whether one is set.
func (n Nullable[T]) Get() (T, bool) {
	return n.value, n.valid
}

// OrElse returns the value, or def when none is set.
func (n Nullable[T]) OrElse(def T) T {
	if n.valid {
		return n.value
	}
	return def
}

// MarshalJSON implements json.Marshaler.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return jsonNull, nil
	}
	return json.Marshal(n.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*n = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Value(v)
	return nil
}
