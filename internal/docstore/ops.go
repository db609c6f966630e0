package docstore

import (
	"encoding/json"
	"fmt"
)

// FieldOp is a server-side field transform applied inside Update. Array
// operators have set semantics so concurrent writers commute.
type FieldOp interface {
	apply(current any, present bool) (next any, keep bool, err error)
}

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

type increment struct{ delta float64 }

type deleteField struct{}

// ArrayUnion appends each value not already present in the array field.
func ArrayUnion(values ...any) FieldOp { return arrayUnion{values: values} }

// ArrayRemove removes every element equal to any of values.
func ArrayRemove(values ...any) FieldOp { return arrayRemove{values: values} }

// Increment adds delta to a numeric field, treating a missing field as 0.
func Increment(delta float64) FieldOp { return increment{delta: delta} }

// DeleteField removes the field from the document.
func DeleteField() FieldOp { return deleteField{} }

func (op arrayUnion) apply(current any, present bool) (any, bool, error) {
	arr, err := asArray(current, present)
	if err != nil {
		return nil, false, err
	}
	seen := make(map[string]struct{}, len(arr))
	for _, v := range arr {
		seen[canonical(v)] = struct{}{}
	}
	for _, v := range op.values {
		nv, err := normalize(v)
		if err != nil {
			return nil, false, err
		}
		key := canonical(nv)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		arr = append(arr, nv)
	}
	return arr, true, nil
}

func (op arrayRemove) apply(current any, present bool) (any, bool, error) {
	arr, err := asArray(current, present)
	if err != nil {
		return nil, false, err
	}
	drop := make(map[string]struct{}, len(op.values))
	for _, v := range op.values {
		nv, err := normalize(v)
		if err != nil {
			return nil, false, err
		}
		drop[canonical(nv)] = struct{}{}
	}
	out := make([]any, 0, len(arr))
	for _, v := range arr {
		if _, ok := drop[canonical(v)]; ok {
			continue
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (op increment) apply(current any, present bool) (any, bool, error) {
	if !present || current == nil {
		return op.delta, true, nil
	}
	n, ok := current.(float64)
	if !ok {
		return nil, false, fmt.Errorf("increment: field is %T, not a number", current)
	}
	return n + op.delta, true, nil
}

func (deleteField) apply(any, bool) (any, bool, error) {
	return nil, false, nil
}

// asArray returns the array held by a field. Missing and null fields are
// empty arrays; any other non-array value is replaced, as array operators
// overwrite non-array fields.
func asArray(current any, present bool) ([]any, error) {
	if !present || current == nil {
		return []any{}, nil
	}
	arr, ok := current.([]any)
	if !ok {
		return []any{}, nil
	}
	out := make([]any, len(arr))
	copy(out, arr)
	return out, nil
}

// normalize converts v into the shape produced by decoding JSON.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// canonical returns an equality key for a normalized value. encoding/json
// sorts map keys, so equal values produce equal keys.
func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(raw)
}

// applyFields applies a field map (plain values or FieldOps) onto data.
func applyFields(data map[string]any, fields map[string]any) error {
	for key, value := range fields {
		if op, ok := value.(FieldOp); ok {
			current, present := data[key]
			next, keep, err := op.apply(current, present)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			if keep {
				data[key] = next
			} else {
				delete(data, key)
			}
			continue
		}
		nv, err := normalize(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		data[key] = nv
	}
	return nil
}
