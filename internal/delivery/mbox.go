package delivery

import (
	"bufio"
	"context"
	"fmt"
	"net/smtp"
	"os"
	"regexp"
	"strings"
	"sync"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/packet"
	"miniond/pkg/logging"
	pkgstrings "miniond/pkg/strings"

	"math/rand"
)

// addressLineRe matches one "name : email" or "name = email" line in an
// MBOX address file, skipping comments (spec §4.5).
var addressLineRe = regexp.MustCompile(`\s*([^\s:=]+)\s*[:=]\s*(\S+)`)

// MBOXModule delivers exit traffic by mapping a recipient pseudonym to a
// real email address via a flat address file, then sending over SMTP.
type MBOXModule struct {
	mu       sync.RWMutex
	cfg      config.MBOXConfig
	enabled  bool
	sendMail func(addr string, from string, to []string, msg []byte) error
}

// NewMBOXModule builds an MBOXModule with net/smtp.SendMail as the
// delivery primitive, grounded on fenilsonani's email-server delivery.go
// composing-and-sending pattern.
func NewMBOXModule() *MBOXModule {
	m := &MBOXModule{}
	m.sendMail = func(addr string, from string, to []string, msg []byte) error {
		return smtp.SendMail(addr, nil, from, to, msg)
	}
	return m
}

func (*MBOXModule) Name() string { return "mbox" }

func (*MBOXModule) ExitTypes() []packet.ExitType { return []packet.ExitType{packet.ExitMBOX} }

func (*MBOXModule) ConfigSchema() ConfigSchema {
	return ConfigSchema{
		"Delivery/MBOX": {
			"Enabled":       FieldSpec{Requirement: Allow, Default: "no"},
			"AddressFile":   FieldSpec{Requirement: Require},
			"ReturnAddress": FieldSpec{Requirement: Require},
			"RemoveContact": FieldSpec{Requirement: Allow},
			"SMTPServer":    FieldSpec{Requirement: Allow, Default: "127.0.0.1:25"},
		},
	}
}

func (m *MBOXModule) Configure(cfg config.Config) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Delivery.MBOX
	m.enabled = cfg.Delivery.MBOX.Enabled
	return m.enabled, nil
}

func (m *MBOXModule) ServerInfoBlock() string {
	return "MBOX\n"
}

func (*MBOXModule) CreateQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error) {
	return DefaultQueue(dir, clk, rnd, maxRetries)
}

// Process looks up exitInfo (the recipient pseudonym) in the address file
// and, if found, sends payload/tag escaped per §4.6 as an SMTP message.
// An unknown recipient is NoRetry (spec §4.5, scenario S4).
func (m *MBOXModule) Process(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	addresses, err := loadAddressFile(cfg.AddressFile)
	if err != nil {
		return ResultRetry, fmt.Errorf("loading address file: %w", err)
	}

	pseudonym := string(exitInfo)
	email, ok := addresses[pseudonym]
	if !ok {
		logging.Warn("MBOX", "unknown recipient %q, dropping", pkgstrings.TruncateDescription(pseudonym, pkgstrings.DefaultDescriptionMaxLen))
		return ResultNoRetry, nil
	}

	body := Escape(payload, tag)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: anonymous message\r\n\r\n%s", cfg.ReturnAddress, email, body)

	if err := m.sendMail(cfg.SMTPServer, cfg.ReturnAddress, []string{email}, []byte(msg)); err != nil {
		return ResultRetry, fmt.Errorf("sending to %s: %w", email, err)
	}
	return ResultOk, nil
}

// loadAddressFile parses name:email / name=email lines, skipping blanks
// and comments starting with '#'.
func loadAddressFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	addresses := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		match := addressLineRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		addresses[match[1]] = match[2]
	}
	return addresses, scanner.Err()
}
