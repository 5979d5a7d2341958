package schema

import (
	"fmt"
	"math"

	"github.com/shelfdb/shelfdb/internal/dberr"
)

// Kind is the declared value kind of a column.
type Kind string

const (
	KindInt   Kind = "Int"
	KindFloat Kind = "Float"
	KindText  Kind = "Text"
	KindBool  Kind = "Bool"
	KindBlob  Kind = "Blob"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInt, KindFloat, KindText, KindBool, KindBlob:
		return true
	}
	return false
}

// ParseKind converts a persisted kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown column kind %q", s)
	}
	return k, nil
}

// Coerce checks value against kind and returns its canonical Go
// representation: Int -> int, Float -> float64, Text -> string,
// Bool -> bool, Blob -> []byte. A nil value passes through; nullability
// and defaults are the column's concern, not the kind's.
//
// Numbers arriving as float64 (the json decoding of every number) are
// accepted for Int columns when they carry no fractional part.
func (k Kind) Coerce(column string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch k {
	case KindInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, dberr.NewValueError(column, "expected Int, got fractional number %v", v)
			}
			return int(v), nil
		}
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case KindText:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case KindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case KindBlob:
		// copied so the caller's slice never aliases stored state
		if v, ok := value.([]byte); ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			return cp, nil
		}
	}

	return nil, dberr.NewValueError(column, "expected %s, got %T", k, value)
}
