package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/durablequeue"
	"miniond/internal/errs"
	"miniond/internal/packet"
	"miniond/pkg/logging"

	"math/rand"

	"gopkg.in/yaml.v3"
)

type moduleState int

const (
	stateUnloaded moduleState = iota
	stateRegistered
	stateEnabled
)

// exitAddress is what ModuleManager encodes as a durable queue entry's
// address for an exit message (spec §3: "(exit_type, exit_info, tag) for
// exit modules").
type exitAddress struct {
	ExitType packet.ExitType `json:"exitType"`
	ExitInfo []byte          `json:"exitInfo"`
	Tag      []byte          `json:"tag"`
	HasTag   bool            `json:"hasTag"`
}

// Manager is the ModuleManager component (spec §4.5).
type Manager struct {
	mu sync.Mutex

	queueDir   string
	clock      clock.Clock
	rnd        *rand.Rand
	maxRetries uint8
	decoder    PayloadDecoder

	modules    map[string]DeliveryModule
	state      map[string]moduleState
	byExitType map[packet.ExitType]DeliveryModule
	queues     map[string]DeliveryQueue

	schema      ConfigSchema
	schemaOwner map[string]string
}

// NewManager constructs an empty ModuleManager; modules are added with
// Register and activated with Configure.
func NewManager(queueDir string, decoder PayloadDecoder, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) *Manager {
	return &Manager{
		queueDir:    queueDir,
		clock:       clk,
		rnd:         rnd,
		maxRetries:  maxRetries,
		decoder:     decoder,
		modules:     make(map[string]DeliveryModule),
		state:       make(map[string]moduleState),
		byExitType:  make(map[packet.ExitType]DeliveryModule),
		queues:      make(map[string]DeliveryQueue),
		schema:      make(ConfigSchema),
		schemaOwner: make(map[string]string),
	}
}

// Register adds m in the "registered" state and merges its ConfigSchema()
// into the global schema (spec §4.5). A name collision, or a schema
// section/key already claimed by a different module, is rejected — the
// new module is not registered; the one already registered stays.
func (mgr *Manager) Register(m DeliveryModule) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	name := m.Name()
	if _, exists := mgr.modules[name]; exists {
		return fmt.Errorf("delivery module %q already registered", name)
	}
	if err := mgr.mergeSchemaLocked(name, m.ConfigSchema()); err != nil {
		return err
	}

	mgr.modules[name] = m
	mgr.state[name] = stateRegistered
	return nil
}

// mergeSchemaLocked folds s into mgr.schema, failing if any (section, key)
// pair is already claimed by a different module's schema — the
// "collisions between modules fail validation" invariant of spec §4.5.
func (mgr *Manager) mergeSchemaLocked(owner string, s ConfigSchema) error {
	for section, fields := range s {
		if mgr.schema[section] == nil {
			mgr.schema[section] = make(map[string]FieldSpec)
		}
		for key, spec := range fields {
			ownerKey := section + "." + key
			if existing, ok := mgr.schemaOwner[ownerKey]; ok && existing != owner {
				return errs.New(errs.KindConfig, "Manager.Register", fmt.Errorf("config schema collision: %s claimed by both %s and %s", ownerKey, existing, owner))
			}
			mgr.schema[section][key] = spec
			mgr.schemaOwner[ownerKey] = owner
		}
	}
	return nil
}

// Configure validates cfg against the merged schema, then runs Configure
// on every registered module, enabling or leaving disabled each one, and
// wires enabled modules into the exit-type dispatch table and their
// durable queues.
func (mgr *Manager) Configure(cfg config.Config) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if err := mgr.validateSchemaLocked(cfg); err != nil {
		return err
	}

	for name, m := range mgr.modules {
		enabled, err := m.Configure(cfg)
		if err != nil {
			return errs.New(errs.KindConfig, "Manager.Configure", fmt.Errorf("module %s: %w", name, err))
		}
		if !enabled {
			mgr.state[name] = stateRegistered
			continue
		}

		queue, err := m.CreateQueue(filepath.Join(mgr.queueDir, name), mgr.clock, mgr.rnd, mgr.maxRetries)
		if err != nil {
			return errs.New(errs.KindConfig, "Manager.Configure", fmt.Errorf("module %s: creating queue: %w", name, err))
		}
		mgr.queues[name] = queue
		mgr.state[name] = stateEnabled

		for _, et := range m.ExitTypes() {
			if existing, ok := mgr.byExitType[et]; ok && existing.Name() != name {
				logging.Warn("ModuleManager", "exit type %#x claimed by both %s and %s; %s wins", uint16(et), existing.Name(), name, name)
			}
			mgr.byExitType[et] = m
		}
		logging.Info("ModuleManager", "enabled delivery module %s for exit types %v", name, m.ExitTypes())
	}
	return nil
}

// validateSchemaLocked checks every required key in the merged schema is
// present in cfg, and that no key present in a schema-covered section is
// absent from that section's schema — spec §4.5's "unknown/colliding
// module config sections are ConfigurationErrors, fatal."
func (mgr *Manager) validateSchemaLocked(cfg config.Config) error {
	present, err := sectionFields(cfg)
	if err != nil {
		return errs.New(errs.KindConfig, "Manager.Configure", err)
	}

	for section, fields := range mgr.schema {
		have := present[section]
		for key, spec := range fields {
			if _, ok := have[key]; !ok && spec.Requirement == Require {
				return errs.New(errs.KindConfig, "Manager.Configure", fmt.Errorf("%s.%s is required", section, key))
			}
		}
		for key := range have {
			if _, ok := fields[key]; !ok {
				return errs.New(errs.KindConfig, "Manager.Configure", fmt.Errorf("unknown config key %s.%s", section, key))
			}
		}
	}
	return nil
}

// sectionFields renders cfg's delivery sections down to section name ->
// set of present keys, so validateSchemaLocked can check the merged
// schema without every module reaching into config's concrete struct
// types itself. Built-in sections are named the way their own
// ConfigSchema() methods name them; third-party sections arrive already
// keyed that way via DeliveryConfig's inline Extra map.
func sectionFields(cfg config.Config) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool)

	mbox, err := structFields(cfg.Delivery.MBOX)
	if err != nil {
		return nil, err
	}
	out["Delivery/MBOX"] = mbox

	smtp, err := structFields(cfg.Delivery.SMTPViaMixmaster)
	if err != nil {
		return nil, err
	}
	out["Delivery/SMTP-Via-Mixmaster"] = smtp

	for section, raw := range cfg.Delivery.Extra {
		fields := make(map[string]bool, len(raw))
		for key := range raw {
			fields[key] = true
		}
		out["Delivery/"+section] = fields
	}
	return out, nil
}

// structFields round-trips v through YAML to list the keys it holds a
// non-zero value for, using the same tags miniond.conf is parsed with. A
// zero value counts as absent, since yaml.Marshal emits every field.
func structFields(v interface{}) (map[string]bool, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string]bool, len(raw))
	for key, val := range raw {
		if val == nil || val == "" || val == false || val == 0 {
			continue
		}
		fields[key] = true
	}
	return fields, nil
}

// ServerInfoBlocks concatenates every enabled module's ServerInfoBlock(),
// in a stable order, for KeyRing to fold into each keyset's descriptor
// (spec §4.5, supplemented per SPEC_FULL.md's supplemented feature 4).
func (mgr *Manager) ServerInfoBlocks() string {
	mgr.mu.Lock()
	names := make([]string, 0, len(mgr.queues))
	for name := range mgr.queues {
		names = append(names, name)
	}
	mgr.mu.Unlock()
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		mgr.mu.Lock()
		m := mgr.modules[name]
		mgr.mu.Unlock()
		b.WriteString(m.ServerInfoBlock())
	}
	return b.String()
}

// Accept implements spec §4.5's accept(payload, tag, exit_type, exit_info):
// dispatch by exit type, classify the payload via the three-way decoder,
// and durably enqueue onto the chosen module's queue.
func (mgr *Manager) Accept(payload, tag []byte, exitType packet.ExitType, exitInfo []byte) error {
	mgr.mu.Lock()
	m, ok := mgr.byExitType[exitType]
	mgr.mu.Unlock()
	if !ok {
		logging.Warn("ModuleManager", "no enabled module for exit type %#x, dropping", uint16(exitType))
		return nil
	}

	outcome := mgr.decoder.Decode(payload)

	addr := exitAddress{ExitType: exitType, ExitInfo: exitInfo}
	var body []byte
	switch outcome.Kind {
	case DecodePlain:
		body = outcome.Payload
	case DecodeStillEncrypted:
		body = payload
		addr.Tag = tag
		addr.HasTag = tag != nil
	case DecodeCorrupt:
		body = payload
		addr.Tag = []byte("err")
		addr.HasTag = true
	}

	encodedAddr, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encoding exit address: %w", err)
	}

	mgr.mu.Lock()
	queue := mgr.queues[m.Name()]
	mgr.mu.Unlock()
	if queue == nil {
		return fmt.Errorf("module %s has no queue", m.Name())
	}

	_, err = queue.Enqueue(encodedAddr, body)
	return err
}

// Flush drains and delivers every enabled module's queue (spec §4.5's
// flush()).
func (mgr *Manager) Flush(ctx context.Context) error {
	mgr.mu.Lock()
	enabled := make(map[string]DeliveryModule, len(mgr.queues))
	for name := range mgr.queues {
		enabled[name] = mgr.modules[name]
	}
	mgr.mu.Unlock()

	for name, m := range enabled {
		mgr.mu.Lock()
		queue := mgr.queues[name]
		mgr.mu.Unlock()

		entries, err := queue.Drain(0)
		if err != nil {
			logging.Error("ModuleManager", err, "failed to drain module %s's queue", name)
			continue
		}

		for _, entry := range entries {
			mgr.processOne(ctx, m, queue, entry)
		}

		if flusher, ok := m.(BatchFlusher); ok && len(entries) > 0 {
			if err := flusher.FlushBatch(ctx); err != nil {
				logging.Error("ModuleManager", err, "module %s failed to flush its batch", name)
			}
		}
	}
	return nil
}

// processOne runs a single queue entry through m.Process and acknowledges
// it per spec §4.5's result mapping. A module panic-equivalent error is
// treated as DeliveryRetry once, then DeliveryNoRetry (spec §7): the
// entry's own RetryCount tells us which attempt this is.
func (mgr *Manager) processOne(ctx context.Context, m DeliveryModule, queue DeliveryQueue, entry durablequeue.Entry) {
	var addr exitAddress
	if err := json.Unmarshal(entry.Address, &addr); err != nil {
		logging.Error("ModuleManager", err, "unparseable address for entry %s, dropping", entry.Handle)
		if err := queue.Failed(entry.Handle, false); err != nil {
			logging.Error("ModuleManager", err, "failed to drop unparseable entry %s", entry.Handle)
		}
		return
	}
	tag := addr.Tag
	if !addr.HasTag {
		tag = nil
	}

	result, err := m.Process(ctx, entry.Payload, tag, addr.ExitType, addr.ExitInfo)
	if err != nil {
		retriable := entry.RetryCount == 0
		logging.Warn("ModuleManager", "module %s errored on entry %s (retriable=%v): %v", m.Name(), entry.Handle, retriable, err)
		if ackErr := queue.Failed(entry.Handle, retriable); ackErr != nil {
			logging.Error("ModuleManager", ackErr, "failed to acknowledge errored entry %s", entry.Handle)
		}
		return
	}

	var ackErr error
	switch result {
	case ResultOk:
		ackErr = queue.Succeeded(entry.Handle)
	case ResultRetry:
		ackErr = queue.Failed(entry.Handle, true)
	case ResultNoRetry:
		ackErr = queue.Failed(entry.Handle, false)
	}
	if ackErr != nil {
		logging.Error("ModuleManager", ackErr, "failed to acknowledge entry %s (result=%s)", entry.Handle, result)
	}
}
