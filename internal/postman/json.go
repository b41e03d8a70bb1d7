package postman

import (
	"bytes"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// newEncoder returns an encoder with the collection file settings:
// four-space indent, no HTML escaping, non-ASCII written literally.
func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc
}

// encodeIndented renders v with the collection file settings, without
// the trailing newline Encode appends.
func encodeIndented(v any) (string, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
