package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
)

const maxRequestBody = 1 << 20 // 1 MB

// decodeJSON decodes a request body into dest, rejecting unknown fields
// and trailing garbage.
func decodeJSON(r io.Reader, dest any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}
