package upstream

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// Shape decodes and checks the top-level object of a response. It returns
// an error for any structural mismatch.
type Shape[T any] func(top map[string]json.RawMessage) (T, error)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ListOf requires top[field] to be an array whose every element is an
// object that decodes into E and passes E's validate tags.
func ListOf[E any](field string) Shape[[]E] {
	return func(top map[string]json.RawMessage) ([]E, error) {
		raw, ok := top[field]
		if !ok {
			return nil, xerrors.Newf("missing %q", field)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			return nil, xerrors.Newf("%q is not an array", field)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, xerrors.Wrapf(err, "decode %q", field)
		}
		out := make([]E, 0, len(items))
		for i, item := range items {
			e, err := decodeOne[E](item)
			if err != nil {
				return nil, xerrors.Wrapf(err, "%s[%d]", field, i)
			}
			out = append(out, e)
		}
		return out, nil
	}
}

// FirstOf is ListOf that keeps only the first element, nil when empty.
func FirstOf[E any](field string) Shape[*E] {
	list := ListOf[E](field)
	return func(top map[string]json.RawMessage) (*E, error) {
		items, err := list(top)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}
		return &items[0], nil
	}
}

func decodeOne[E any](raw json.RawMessage) (E, error) {
	var e E
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return e, xerrors.New("element is not an object")
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, xerrors.Wrap(err, "decode element")
	}
	if isStruct(e) {
		if err := validate.Struct(e); err != nil {
			var zero E
			return zero, xerrors.Wrap(err, "validate element")
		}
	}
	return e, nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}
