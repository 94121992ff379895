package minifier

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/wehubfusion/terser/pkg/charset"
	"github.com/wehubfusion/terser/pkg/minification"
	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// readSource reads path in the named charset and normalises line terminators.
func readSource(path, charsetName string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", minification.NewIOError(path, err)
	}

	text, err := charset.Decode(charsetName, data)
	if err != nil {
		return "", minification.NewIOError(path, err)
	}

	return charset.JoinLines(text), nil
}

// parseOptions accepts relaxed JSON (unquoted keys, trailing commas)
// and returns strict JSON for the engine.
func parseOptions(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("no options defined")
	}

	var options map[string]interface{}
	if err := json5.Unmarshal([]byte(raw), &options); err != nil {
		return "", err
	}
	if options == nil {
		options = map[string]interface{}{}
	}

	out, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
