package delivery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"miniond/internal/config"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

func writeAddressFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "address_file")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestMBOXDeliversKnownRecipient covers scenario S3.
func TestMBOXDeliversKnownRecipient(t *testing.T) {
	addrFile := writeAddressFile(t, "# comment\nalice : alice@example.com\n")

	m := NewMBOXModule()
	var gotFrom, gotTo string
	var gotBody []byte
	m.sendMail = func(addr, from string, to []string, msg []byte) error {
		gotFrom = from
		gotTo = to[0]
		gotBody = msg
		return nil
	}

	cfg := config.Default()
	cfg.Delivery.MBOX = config.MBOXConfig{
		Enabled:       true,
		AddressFile:   addrFile,
		ReturnAddress: "remailer@example.com",
		SMTPServer:    "127.0.0.1:25",
	}
	enabled, err := m.Configure(cfg)
	require.NoError(t, err)
	require.True(t, enabled)

	result, err := m.Process(context.Background(), []byte("hello\n"), nil, packet.ExitMBOX, []byte("alice"))
	require.NoError(t, err)
	require.Equal(t, ResultOk, result)

	require.Equal(t, "remailer@example.com", gotFrom)
	require.Equal(t, "alice@example.com", gotTo)
	require.Contains(t, string(gotBody), "To: alice@example.com")
	require.Contains(t, string(gotBody), "From: remailer@example.com")
	require.Contains(t, string(gotBody), "hello")
	require.NotContains(t, string(gotBody), "base64")
}

// TestMBOXUnknownRecipient covers scenario S4.
func TestMBOXUnknownRecipient(t *testing.T) {
	addrFile := writeAddressFile(t, "alice : alice@example.com\n")

	m := NewMBOXModule()
	called := false
	m.sendMail = func(addr, from string, to []string, msg []byte) error {
		called = true
		return nil
	}

	cfg := config.Default()
	cfg.Delivery.MBOX = config.MBOXConfig{
		Enabled:       true,
		AddressFile:   addrFile,
		ReturnAddress: "remailer@example.com",
		SMTPServer:    "127.0.0.1:25",
	}
	_, err := m.Configure(cfg)
	require.NoError(t, err)

	result, err := m.Process(context.Background(), []byte("hello"), nil, packet.ExitMBOX, []byte("bob"))
	require.NoError(t, err)
	require.Equal(t, ResultNoRetry, result)
	require.False(t, called)
}
