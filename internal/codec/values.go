package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/shelfdb/shelfdb/internal/schema"
)

// decodeValue maps one persisted value back to its canonical Go type.
// Blobs may arrive base64-encoded (json, csv) and bools may arrive as
// integers (sqlite); everything else goes through Kind.Coerce.
func decodeValue(kind schema.Kind, value any) (any, error) {
	switch kind {
	case schema.KindBlob:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("bad blob encoding: %w", err)
			}
			return raw, nil
		}
	case schema.KindText:
		// database/sql drivers may hand TEXT back as raw bytes
		if v, ok := value.([]byte); ok {
			return string(v), nil
		}
	case schema.KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int:
			return v != 0, nil
		case int64:
			return v != 0, nil
		case float64:
			return v != 0, nil
		}
	}
	return kind.Coerce("", value)
}
