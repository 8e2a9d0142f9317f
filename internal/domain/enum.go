package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// enumText reads the text form of a Postgres ENUM or TEXT column.
func enumText(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("enum column is NULL")
	default:
		return "", fmt.Errorf("unsupported enum source type %T", src)
	}
}

// Metadata is a free-form JSON object stored in a JSONB column.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata source type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	*m = out
	return nil
}

// StringValue returns the value stored under key, or "" when absent or not a string.
func (m Metadata) StringValue(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
