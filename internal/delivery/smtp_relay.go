package delivery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/packet"
	"miniond/pkg/logging"

	"math/rand"
)

// SMTPRelayModule is the built-in SMTP-via-relay exit module: it shells
// out to an external mixing-remailer binary per message and fire-and-
// forgets the result, then flushes the binary's own pool once per batch
// (spec §4.5).
type SMTPRelayModule struct {
	mu      sync.RWMutex
	cfg     config.SMTPViaMixmasterConfig
	enabled bool
	runCmd  func(ctx context.Context, name string, args ...string) error
}

// NewSMTPRelayModule builds an SMTPRelayModule invoking the configured
// binary via os/exec, bounded by the caller's context per spec §5's "must
// be bounded or delegated to a child process whose completion is observed
// asynchronously".
func NewSMTPRelayModule() *SMTPRelayModule {
	m := &SMTPRelayModule{}
	m.runCmd = func(ctx context.Context, name string, args ...string) error {
		cmd := exec.CommandContext(ctx, name, args...)
		return cmd.Run()
	}
	return m
}

func (*SMTPRelayModule) Name() string { return "smtp-via-mixmaster" }

func (*SMTPRelayModule) ExitTypes() []packet.ExitType { return []packet.ExitType{packet.ExitSMTP} }

func (*SMTPRelayModule) ConfigSchema() ConfigSchema {
	return ConfigSchema{
		"Delivery/SMTP-Via-Mixmaster": {
			"Enabled":     FieldSpec{Requirement: Allow, Default: "no"},
			"MixCommand":  FieldSpec{Requirement: Require},
			"Server":      FieldSpec{Requirement: Allow},
			"SubjectLine": FieldSpec{Requirement: Allow},
		},
	}
}

func (m *SMTPRelayModule) Configure(cfg config.Config) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Delivery.SMTPViaMixmaster
	m.enabled = cfg.Delivery.SMTPViaMixmaster.Enabled
	return m.enabled, nil
}

func (m *SMTPRelayModule) ServerInfoBlock() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("SMTP relayed via %s\n", m.cfg.Server)
}

func (*SMTPRelayModule) CreateQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error) {
	return DefaultQueue(dir, clk, rnd, maxRetries)
}

// Process writes the escaped message to a temp file and invokes the
// remailer binary with "-l server -s subject -t recipient tmpfile" (spec
// §4.5). The exit code is logged; the result is always Ok, since this
// module fire-and-forgets delivery to the external binary.
func (m *SMTPRelayModule) Process(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	tmp, err := os.CreateTemp("", "miniond-smtp-relay-*")
	if err != nil {
		return ResultOk, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	body := Escape(payload, tag)
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return ResultOk, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ResultOk, fmt.Errorf("closing temp file: %w", err)
	}

	recipient := string(exitInfo)
	err = m.runCmd(ctx, cfg.MixCommand, "-l", cfg.Server, "-s", cfg.SubjectLine, "-t", recipient, tmp.Name())
	if err != nil {
		logging.Warn("SMTPRelay", "remailer binary exited with error for recipient %s: %v", recipient, err)
	}
	return ResultOk, nil
}

// FlushBatch invokes the remailer binary's pool-flush command once per
// batch (spec §4.5).
func (m *SMTPRelayModule) FlushBatch(ctx context.Context) error {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if err := m.runCmd(ctx, cfg.MixCommand, "-F"); err != nil {
		return fmt.Errorf("flushing remailer pool: %w", err)
	}
	return nil
}
