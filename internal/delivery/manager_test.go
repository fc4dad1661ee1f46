package delivery

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	mu        sync.Mutex
	name      string
	exitTypes []packet.ExitType
	processed []string
	process   func(payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error)
	schema    ConfigSchema
	infoBlock string
}

func (m *fakeModule) Name() string                            { return m.name }
func (m *fakeModule) ExitTypes() []packet.ExitType             { return m.exitTypes }
func (m *fakeModule) ConfigSchema() ConfigSchema               { return m.schema }
func (m *fakeModule) Configure(cfg config.Config) (bool, error) { return true, nil }
func (m *fakeModule) ServerInfoBlock() string                  { return m.infoBlock }

func (m *fakeModule) CreateQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error) {
	return DefaultQueue(dir, clk, rnd, maxRetries)
}

func (m *fakeModule) Process(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error) {
	m.mu.Lock()
	m.processed = append(m.processed, string(exitInfo))
	m.mu.Unlock()
	if m.process != nil {
		return m.process(payload, tag, exitType, exitInfo)
	}
	return ResultOk, nil
}

func newTestManager(t *testing.T, clk clock.Clock) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), PassthroughDecoder{}, clk, rand.New(rand.NewSource(1)), 5)
}

// TestExitTypeRouting covers spec §8 invariant 5: accept(_, _, T, _)
// dispatches to the module that claims T while enabled.
func TestExitTypeRouting(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	mgr := newTestManager(t, fc)

	m := &fakeModule{name: "alpha", exitTypes: []packet.ExitType{0x0200}}
	require.NoError(t, mgr.Register(m))
	require.NoError(t, mgr.Configure(config.Default()))

	require.NoError(t, mgr.Accept([]byte("payload"), nil, 0x0200, []byte("dest")))
	require.NoError(t, mgr.Flush(context.Background()))

	require.Equal(t, []string{"dest"}, m.processed)
}

func TestUnknownExitTypeDropped(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	mgr := newTestManager(t, fc)

	m := &fakeModule{name: "alpha", exitTypes: []packet.ExitType{0x0200}}
	require.NoError(t, mgr.Register(m))
	require.NoError(t, mgr.Configure(config.Default()))

	require.NoError(t, mgr.Accept([]byte("payload"), nil, 0x0300, []byte("dest")))
	require.NoError(t, mgr.Flush(context.Background()))
	require.Empty(t, m.processed)
}

func TestModuleErrorRetriesOnceThenDrops(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	mgr := newTestManager(t, fc)

	calls := 0
	m := &fakeModule{
		name:      "alpha",
		exitTypes: []packet.ExitType{0x0200},
		process: func(payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error) {
			calls++
			return ResultOk, assertErr
		},
	}
	require.NoError(t, mgr.Register(m))
	require.NoError(t, mgr.Configure(config.Default()))

	require.NoError(t, mgr.Accept([]byte("payload"), nil, 0x0200, []byte("dest")))
	require.NoError(t, mgr.Flush(context.Background()))
	fc.Advance(24 * time.Hour)
	require.NoError(t, mgr.Flush(context.Background()))
	fc.Advance(24 * time.Hour)
	require.NoError(t, mgr.Flush(context.Background()))

	require.Equal(t, 2, calls)
}

var assertErr = errDeliberate{}

type errDeliberate struct{}

func (errDeliberate) Error() string { return "deliberate test failure" }

// TestRegisterRejectsSchemaCollision covers spec §4.5's "collisions
// between modules fail validation."
func TestRegisterRejectsSchemaCollision(t *testing.T) {
	mgr := newTestManager(t, clock.NewFake(time.Unix(1_700_000_000, 0)))

	a := &fakeModule{name: "alpha", schema: ConfigSchema{
		"Delivery/Shared": {"Key": FieldSpec{Requirement: Require}},
	}}
	b := &fakeModule{name: "beta", schema: ConfigSchema{
		"Delivery/Shared": {"Key": FieldSpec{Requirement: Allow}},
	}}

	require.NoError(t, mgr.Register(a))
	err := mgr.Register(b)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delivery/Shared.Key")
}

// TestConfigureRejectsMissingRequiredKey covers the same invariant from
// the config side: a module's Require key absent from cfg fails
// Configure before any module is enabled.
func TestConfigureRejectsMissingRequiredKey(t *testing.T) {
	mgr := newTestManager(t, clock.NewFake(time.Unix(1_700_000_000, 0)))

	m := &fakeModule{name: "alpha", schema: ConfigSchema{
		"Delivery/MBOX": {"AddressFile": FieldSpec{Requirement: Require}},
	}}
	require.NoError(t, mgr.Register(m))

	err := mgr.Configure(config.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delivery/MBOX.AddressFile")
}

// TestServerInfoBlocksConcatenatesEnabledModules covers SPEC_FULL.md's
// supplemented feature 4: each enabled module's ServerInfoBlock() is folded together in a
// stable order.
func TestServerInfoBlocksConcatenatesEnabledModules(t *testing.T) {
	mgr := newTestManager(t, clock.NewFake(time.Unix(1_700_000_000, 0)))

	a := &fakeModule{name: "alpha", exitTypes: []packet.ExitType{0x0200}, infoBlock: "Alpha-Type: 0x0200\n"}
	b := &fakeModule{name: "beta", exitTypes: []packet.ExitType{0x0300}, infoBlock: "Beta-Type: 0x0300\n"}
	require.NoError(t, mgr.Register(a))
	require.NoError(t, mgr.Register(b))
	require.NoError(t, mgr.Configure(config.Default()))

	require.Equal(t, "Alpha-Type: 0x0200\nBeta-Type: 0x0300\n", mgr.ServerInfoBlocks())
}
