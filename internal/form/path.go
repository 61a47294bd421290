// Package form holds server-side drafts of the patient registration and
// anamnesis forms. A draft is edited field by field and then submitted to
// the matching record store.
package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ehr/intake/internal/platform/apperr"
)

var ErrInvalidPath = fmt.Errorf("%w: invalid field path", apperr.ErrValidation)

// SetPath sets the field at a dotted JSON path inside *target, for example
// "patient_condition.walking" or "reports.1.description". Numeric segments
// index arrays; an index equal to the length appends. target must be a
// pointer to a struct. On any error *target is left unchanged.
func SetPath(target any, path string, value any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("set path: target must be a non-nil struct pointer, got %T", target)
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}

	raw, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("set path: encode draft: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("set path: decode draft: %w", err)
	}

	doc, err = setIn(doc, segments, value, path)
	if err != nil {
		return err
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
	}
	fresh := reflect.New(rv.Elem().Type())
	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(fresh.Interface()); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

func setIn(node any, segments []string, value any, path string) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	seg := segments[0]

	if idx, err := strconv.Atoi(seg); err == nil {
		var list []any
		switch n := node.(type) {
		case []any:
			list = n
		case nil:
		default:
			return nil, fmt.Errorf("%w: %q: %q is not a list", ErrInvalidPath, path, seg)
		}
		switch {
		case idx < 0 || idx > len(list):
			return nil, fmt.Errorf("%w: %q: index %d out of range", ErrInvalidPath, path, idx)
		case idx == len(list):
			child, err := setIn(nil, segments[1:], value, path)
			if err != nil {
				return nil, err
			}
			return append(list, child), nil
		default:
			child, err := setIn(list[idx], segments[1:], value, path)
			if err != nil {
				return nil, err
			}
			list[idx] = child
			return list, nil
		}
	}

	var obj map[string]any
	switch n := node.(type) {
	case map[string]any:
		obj = n
	case nil:
		obj = map[string]any{}
	default:
		return nil, fmt.Errorf("%w: %q: %q is not an object", ErrInvalidPath, path, seg)
	}
	child, err := setIn(obj[seg], segments[1:], value, path)
	if err != nil {
		return nil, err
	}
	obj[seg] = child
	return obj, nil
}
