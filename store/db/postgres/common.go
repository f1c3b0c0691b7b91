package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// placeholder returns the nth positional parameter ($n).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// JSON parameters are bound as strings; lib/pq would send []byte as bytea.
func marshalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	return string(bytes), nil
}

func unmarshalMetadata(bytes []byte) (map[string]any, error) {
	metadata := map[string]any{}
	if len(bytes) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(bytes, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metadata")
	}
	return metadata, nil
}

// nullableJSON marshals v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func scanJSON[T any](bytes []byte) (*T, error) {
	if len(bytes) == 0 {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal(bytes, v); err != nil {
		return nil, err
	}
	return v, nil
}
