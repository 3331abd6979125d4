// Package strata implements the Phase-Strata Router (spec §4.F): a pure
// function mapping the current ORPAR phase to the memory strata it should
// draw from and the λ blending weight MULS should apply during retrieval.
package strata

import "github.com/orpar-labs/orpar-core/internal/core"

// Route is the (strata, λ) pair returned for a given phase.
type Route struct {
	Strata []core.Stratum
	Lambda float64
}

// defaults encodes the table in spec §4.F. New copies it into each Router,
// and WithPhaseRoute / WithFallback override entries of that copy; the
// package-level table itself is never modified.
var defaults = map[core.Phase]Route{
	core.PhaseObserve: {Strata: []core.Stratum{core.StratumWorking, core.StratumShortTerm}, Lambda: 0.2},
	core.PhaseReason:  {Strata: []core.Stratum{core.StratumEpisodic, core.StratumSemantic}, Lambda: 0.5},
	core.PhasePlan:    {Strata: []core.Stratum{core.StratumSemantic, core.StratumLongTerm}, Lambda: 0.7},
	core.PhaseAct:     {Strata: []core.Stratum{core.StratumWorking, core.StratumShortTerm}, Lambda: 0.3},
	core.PhaseReflect: {Strata: []core.Stratum{core.StratumWorking, core.StratumShortTerm, core.StratumEpisodic, core.StratumSemantic, core.StratumLongTerm}, Lambda: 0.6},
}

// defaultFallback is used for core.PhaseNone (spec §4.F: "falls back to a
// channel-wide default").
var defaultFallback = Route{Strata: []core.Stratum{core.StratumEpisodic, core.StratumShortTerm}, Lambda: 0.5}

// Router resolves a Phase into a Route. Construct it with New, which starts
// from the default table and applies any options; the zero value has no
// table and routes every phase to an empty Route.
type Router struct {
	table    map[core.Phase]Route
	fallback Route
}

// Option configures a Router at construction.
type Option func(*Router)

// WithPhaseRoute overrides the strata/λ for a single phase.
func WithPhaseRoute(p core.Phase, r Route) Option {
	return func(router *Router) { router.table[p] = r }
}

// WithFallback overrides the PhaseNone fallback route.
func WithFallback(r Route) Option {
	return func(router *Router) { router.fallback = r }
}

// New builds a Router, starting from the spec defaults and applying opts in
// order.
func New(opts ...Option) *Router {
	r := &Router{
		table:    cloneDefaults(),
		fallback: defaultFallback,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cloneDefaults() map[core.Phase]Route {
	out := make(map[core.Phase]Route, len(defaults))
	for k, v := range defaults {
		strata := make([]core.Stratum, len(v.Strata))
		copy(strata, v.Strata)
		out[k] = Route{Strata: strata, Lambda: v.Lambda}
	}
	return out
}

// Route returns the strata set and λ for phase p. PhaseNone (or any
// unrecognized phase) returns the router's fallback.
func (r *Router) Route(p core.Phase) Route {
	if route, ok := r.table[p]; ok {
		return route
	}
	return r.fallback
}
