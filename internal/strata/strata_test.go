package strata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

func TestRouteDefaults(t *testing.T) {
	r := New()

	route := r.Route(core.PhaseObserve)
	require.Equal(t, []core.Stratum{core.StratumWorking, core.StratumShortTerm}, route.Strata)
	require.InDelta(t, 0.2, route.Lambda, 1e-9)

	route = r.Route(core.PhasePlan)
	require.Equal(t, []core.Stratum{core.StratumSemantic, core.StratumLongTerm}, route.Strata)
	require.InDelta(t, 0.7, route.Lambda, 1e-9)

	route = r.Route(core.PhaseReflect)
	require.Len(t, route.Strata, 5)
	require.InDelta(t, 0.6, route.Lambda, 1e-9)
}

func TestRouteNoneFallsBackToChannelDefault(t *testing.T) {
	r := New()
	route := r.Route(core.PhaseNone)
	require.Equal(t, []core.Stratum{core.StratumEpisodic, core.StratumShortTerm}, route.Strata)
	require.InDelta(t, 0.5, route.Lambda, 1e-9)
}

func TestRouteOverride(t *testing.T) {
	r := New(WithPhaseRoute(core.PhaseObserve, Route{Strata: []core.Stratum{core.StratumLongTerm}, Lambda: 0.9}))
	route := r.Route(core.PhaseObserve)
	require.Equal(t, []core.Stratum{core.StratumLongTerm}, route.Strata)
	require.InDelta(t, 0.9, route.Lambda, 1e-9)

	// Unrelated phases remain at spec defaults.
	route = r.Route(core.PhaseAct)
	require.InDelta(t, 0.3, route.Lambda, 1e-9)
}

func TestRouteFallbackOverride(t *testing.T) {
	r := New(WithFallback(Route{Strata: []core.Stratum{core.StratumWorking}, Lambda: 0.1}))
	route := r.Route(core.PhaseNone)
	require.Equal(t, []core.Stratum{core.StratumWorking}, route.Strata)
}

func TestRouteMutationIsolation(t *testing.T) {
	r1 := New()
	r2 := New()
	route := r1.Route(core.PhaseObserve)
	route.Strata[0] = core.StratumLongTerm

	// Mutating the returned slice must not leak into a fresh router's table.
	other := r2.Route(core.PhaseObserve)
	require.Equal(t, core.StratumWorking, other.Strata[0])
}
