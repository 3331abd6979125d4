package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

func desc(name string, phases ...core.Phase) *core.ToolDescriptor {
	allowed := make(map[core.Phase]struct{}, len(phases))
	for _, p := range phases {
		allowed[p] = struct{}{}
	}
	return &core.ToolDescriptor{Name: name, Source: core.ToolInternal, PhaseAllowed: allowed}
}

func TestRegisterIdempotentOnName(t *testing.T) {
	r := New()
	d := desc("write_file", core.PhaseAct)
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(d))

	got, ok := r.Lookup("", "write_file")
	require.True(t, ok)
	require.Equal(t, "write_file", got.Name)
}

func TestRegisterConflictingSchemaRejects(t *testing.T) {
	r := New()
	d1 := desc("write_file", core.PhaseAct)
	d1.InputSchema = []byte(`{"type":"object"}`)
	d2 := desc("write_file", core.PhaseAct)
	d2.InputSchema = []byte(`{"type":"string"}`)

	require.NoError(t, r.Register(d1))
	err := r.Register(d2)
	require.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestListAvailableFiltersByPhase(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(desc("read_file", core.PhaseObserve, core.PhaseAct)))
	require.NoError(t, r.Register(desc("write_file", core.PhaseAct)))

	available := r.ListAvailable("chanA", core.PhaseObserve)
	require.Len(t, available, 1)
	require.Equal(t, "read_file", available[0].Name)
}

func TestListAvailableIncludesChannelScoped(t *testing.T) {
	r := New()
	d := desc("custom_tool", core.PhaseAct)
	d.Source = core.ToolExternal
	d.ChannelScope = "chanA"
	require.NoError(t, r.Register(d))

	require.Empty(t, r.ListAvailable("chanB", core.PhaseAct))
	require.Len(t, r.ListAvailable("chanA", core.PhaseAct), 1)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r := New(WithFailureThreshold(3), WithCooldown(20*time.Millisecond))
	boom := errors.New("boom")
	fail := func(context.Context) (any, error) { return nil, boom }

	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), "api_call", "chanA", fail)
		require.ErrorIs(t, err, boom)
	}

	_, err := r.Execute(context.Background(), "api_call", "chanA", fail)
	require.ErrorIs(t, err, core.ErrCircuitOpen)
	require.Equal(t, core.CircuitOpen, r.CircuitState("api_call", "chanA").State)
}

func TestCircuitHalfOpenProbeCloses(t *testing.T) {
	r := New(WithFailureThreshold(1), WithCooldown(10*time.Millisecond))
	boom := errors.New("boom")
	_, err := r.Execute(context.Background(), "api_call", "chanA", func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, core.CircuitOpen, r.CircuitState("api_call", "chanA").State)

	time.Sleep(15 * time.Millisecond)

	result, err := r.Execute(context.Background(), "api_call", "chanA", func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, core.CircuitClosed, r.CircuitState("api_call", "chanA").State)
}

func TestListAvailableExcludesOpenCircuit(t *testing.T) {
	r := New(WithFailureThreshold(1), WithCooldown(time.Minute))
	require.NoError(t, r.Register(desc("api_call", core.PhaseAct)))
	boom := errors.New("boom")
	_, _ = r.Execute(context.Background(), "api_call", "chanA", func(context.Context) (any, error) { return nil, boom })

	require.Empty(t, r.ListAvailable("chanA", core.PhaseAct))
}

func TestHealthTickTerminatesIdleServer(t *testing.T) {
	r := New()
	r.RegisterExternalServer(&ExternalServer{Name: "srv1", ChannelID: "chanA", KeepAlive: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	terminated := r.HealthTick(time.Now())
	require.Contains(t, terminated, "srv1")
}

func TestNotifyCrashRestartsUnderCap(t *testing.T) {
	r := New()
	r.RegisterExternalServer(&ExternalServer{Name: "srv1", RestartOnCrash: true, MaxRestarts: 1})

	require.True(t, r.NotifyCrash("srv1"))
	require.False(t, r.NotifyCrash("srv1"))
}
