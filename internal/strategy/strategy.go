// Package strategy chooses the tier that governs a run's budget, delegation
// breadth and model assignment.
//
// Selection is a pure function of the request and configuration, so the same
// request under the same configuration always yields the same Strategy.
package strategy

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/themeagent/internal/config"
)

// Tier is a strategy tier.
type Tier string

const (
	Simple  Tier = "SIMPLE"
	Hybrid  Tier = "HYBRID"
	GodMode Tier = "GOD_MODE"
)

var tiers = []Tier{Simple, Hybrid, GodMode}

// Rank orders tiers from cheapest (0) to broadest (2).
func (t Tier) Rank() int {
	for i, x := range tiers {
		if x == t {
			return i
		}
	}
	return -1
}

// ConfigKey is the tier's key in configuration files.
func (t Tier) ConfigKey() string {
	switch t {
	case Simple:
		return config.TierSimple
	case Hybrid:
		return config.TierHybrid
	case GodMode:
		return config.TierGodMode
	}
	return ""
}

// ParseTier accepts SIMPLE/HYBRID/GOD_MODE in any case, or the config keys.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return Simple, nil
	case "hybrid":
		return Hybrid, nil
	case "god_mode", "god-mode", "godmode":
		return GodMode, nil
	}
	return "", fmt.Errorf("unknown strategy tier %q", s)
}

// Domain is a specialist sub-agent's area.
type Domain string

const (
	DomainLiquid     Domain = "liquid"
	DomainCSS        Domain = "css"
	DomainJavaScript Domain = "javascript"
	DomainSettings   Domain = "settings"
)

// AllDomains lists every specialist domain.
var AllDomains = []Domain{DomainLiquid, DomainCSS, DomainJavaScript, DomainSettings}

// ModelProfile names the cost posture of a tier's model assignments.
type ModelProfile string

const (
	ProfileEconomy  ModelProfile = "economy"
	ProfileBalanced ModelProfile = "balanced"
	ProfilePremium  ModelProfile = "premium"
)

// Strategy is the plan of record for one run.
type Strategy struct {
	Tier                        Tier         `json:"tier"`
	MaxIterations               int          `json:"maxIterations"`
	SpecialistDelegationAllowed bool         `json:"specialistDelegationAllowed"`
	MaxDelegations              int          `json:"maxDelegations"`
	SpecialistDomains           []Domain     `json:"specialistDomains,omitempty"`
	// FileScoped requires every delegation to name the files it may touch.
	FileScoped    bool         `json:"fileScoped"`
	RequireReview bool         `json:"requireReview"`
	ModelProfile  ModelProfile `json:"modelAssignmentProfile"`
	Gates         []string     `json:"gates"`
}

// AllowsDomain reports whether a specialist domain may be delegated to.
func (s Strategy) AllowsDomain(d Domain) bool {
	if !s.SpecialistDelegationAllowed {
		return false
	}
	for _, x := range s.SpecialistDomains {
		if x == d {
			return true
		}
	}
	return false
}

// Request carries the selector inputs.
type Request struct {
	Text      string
	FileHints []string
	// Plan is the caller's subscription plan. Empty means uncapped.
	Plan string
	// Tier optionally requests a tier explicitly; it is still capped by Plan.
	Tier Tier
}

// Selector maps requests to strategies.
type Selector struct {
	cfg config.StrategyConfig
}

// NewSelector creates a selector over the configured tier budgets.
func NewSelector(cfg config.StrategyConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select returns the strategy for a request.
func (s *Selector) Select(req Request) Strategy {
	desired := TierFor(Assess(req.Text, req.FileHints))
	if req.Tier.Rank() >= 0 {
		desired = req.Tier
	}
	if ceiling := s.planCap(req.Plan); desired.Rank() > ceiling.Rank() {
		desired = ceiling
	}
	return s.Build(desired)
}

// planCap returns the highest tier a plan may use. Unknown plans get SIMPLE.
func (s *Selector) planCap(plan string) Tier {
	if plan == "" {
		return GodMode
	}
	name, ok := s.cfg.PlanCaps[strings.ToLower(plan)]
	if !ok {
		return Simple
	}
	t, err := ParseTier(name)
	if err != nil {
		return Simple
	}
	return t
}

// Build returns the strategy record for a tier.
func (s *Selector) Build(t Tier) Strategy {
	tc, _ := s.cfg.Tier(t.ConfigKey())
	st := Strategy{
		Tier:          t,
		MaxIterations: tc.MaxIterations,
		Gates:         append([]string(nil), tc.Gates...),
	}
	switch t {
	case Simple:
		st.ModelProfile = ProfileEconomy
	case Hybrid:
		st.SpecialistDelegationAllowed = tc.MaxDelegations > 0
		st.MaxDelegations = tc.MaxDelegations
		st.SpecialistDomains = []Domain{DomainLiquid, DomainCSS}
		st.FileScoped = true
		st.ModelProfile = ProfileBalanced
	case GodMode:
		st.SpecialistDelegationAllowed = true
		st.MaxDelegations = tc.MaxDelegations
		st.SpecialistDomains = append([]Domain(nil), AllDomains...)
		st.RequireReview = true
		st.ModelProfile = ProfilePremium
	}
	return st
}

// Escalate returns the tier used for model routing when the conversation
// shows stagnation. It never changes delegation allowances.
func Escalate(t Tier, factor float64) Tier {
	steps := 0
	switch {
	case factor >= 2.0:
		steps = 2
	case factor >= 1.5:
		steps = 1
	}
	r := t.Rank() + steps
	if r >= len(tiers) {
		r = len(tiers) - 1
	}
	if r < 0 {
		return t
	}
	return tiers[r]
}
