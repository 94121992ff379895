package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealMainExitCodes(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"-h"}, 0},
		{"bad flag", []string{"-threads", "many"}, 2},
		{"unreachable library", []string{
			"-terser-src", filepath.Join(dir, "terser.js"),
			"-source-dir", dir,
			"-target-dir", dir,
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, tt.want, realMain(tt.args, &stderr))
		})
	}
}
