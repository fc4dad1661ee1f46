package delivery

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func extractBody(t *testing.T, wrapped string) string {
	t.Helper()
	lines := strings.Split(strings.TrimRight(wrapped, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	require.Equal(t, delimBegin, lines[0])
	require.Equal(t, delimEnd, lines[len(lines)-1])
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// TestEscapeRoundTripPrintable covers spec §8 invariant 6's first clause:
// a printable payload appears verbatim between the delimiters.
func TestEscapeRoundTripPrintable(t *testing.T) {
	payload := []byte("hello\n")
	wrapped := Escape(payload, nil)
	body := extractBody(t, wrapped)
	require.Contains(t, body, "hello")
}

// TestEscapeRoundTripBinary covers invariant 6's second clause for
// non-printing payloads: the inner body decodes back to the original.
func TestEscapeRoundTripBinary(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 'h', 'i'}
	wrapped := Escape(payload, nil)
	body := extractBody(t, wrapped)

	decoded, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestEscapeEncryptedTag(t *testing.T) {
	payload := []byte("ciphertext")
	tag := []byte("reply-tag")
	wrapped := Escape(payload, tag)
	body := extractBody(t, wrapped)

	require.Contains(t, body, base64.StdEncoding.EncodeToString(tag))
	require.Contains(t, body, base64.StdEncoding.EncodeToString(payload))
}

func TestEscapeErrTagYieldsNoBody(t *testing.T) {
	require.Equal(t, "", Escape([]byte("anything"), []byte("err")))
}
