// Package charset resolves character set names and converts between them and UTF-8.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Lookup resolves an IANA or WHATWG charset name. Empty resolves to UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return unicode.UTF8, nil
	}

	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}

	return nil, fmt.Errorf("unsupported charset: %s", name)
}

// Decode converts data in the named charset to a UTF-8 string. Malformed UTF-8
// input is an error rather than being replaced.
func Decode(name string, data []byte) (string, error) {
	enc, err := Lookup(name)
	if err != nil {
		return "", err
	}

	var t transform.Transformer = enc.NewDecoder()
	if enc == unicode.UTF8 {
		t = encoding.UTF8Validator
	}
	out, _, err := transform.Bytes(t, data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string to bytes in the named charset.
func Encode(name string, text string) ([]byte, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return out, nil
}

// JoinLines splits text on any line terminator and joins the lines with "\n".
// A trailing terminator does not produce a trailing empty line.
func JoinLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSuffix(text, "\n")
}
