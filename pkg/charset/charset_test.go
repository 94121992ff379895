package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf8", "ISO-8859-1", "windows-1252", "UTF-16LE"} {
		t.Run(name, func(t *testing.T) {
			enc, err := Lookup(name)
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}

	_, err := Lookup("no-such-charset")
	assert.Error(t, err)
}

func TestRoundTripLatin1(t *testing.T) {
	raw := []byte{'v', 'a', 'r', ' ', 's', '=', '"', 0xE9, 0xE8, '"', ';'}

	text, err := Decode("ISO-8859-1", raw)
	require.NoError(t, err)
	assert.Equal(t, `var s="éè";`, text)

	back, err := Encode("ISO-8859-1", text)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}

func TestRoundTripUTF8(t *testing.T) {
	text, err := Decode("UTF-8", []byte("const ж = '日本';"))
	require.NoError(t, err)

	back, err := Encode("UTF-8", text)
	require.NoError(t, err)
	assert.Equal(t, "const ж = '日本';", string(back))
}

func TestDecodeRejectsMalformedUTF8(t *testing.T) {
	raw := []byte{'v', 'a', 'r', ' ', 's', '=', '"', 0xE9, 0xE8, '"', ';'}

	for _, name := range []string{"", "UTF-8"} {
		_, err := Decode(name, raw)
		require.Error(t, err)
		assert.ErrorIs(t, err, encoding.ErrInvalidUTF8)
	}
}

func TestJoinLines(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\nb\n", "a\nb"},
		{"a\r\nb\r\n", "a\nb"},
		{"a\rb", "a\nb"},
		{"single", "single"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinLines(tt.in))
	}
}
