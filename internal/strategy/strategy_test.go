package strategy

import (
	"testing"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSelector() *Selector {
	return NewSelector(config.Default().Strategy)
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		files []string
		want  Complexity
	}{
		{"typo fix", "Fix the spelling of 'Shiping' in the footer", nil, ComplexitySimple},
		{"short request", "Make the header sticky", []string{"sections/header.liquid"}, ComplexitySimple},
		{"redesign", "Redesign the product page hero with a video background", nil, ComplexityComplex},
		{"many files", "Adjust spacing in these sections so the page breathes a bit more",
			[]string{"a", "b", "c", "d"}, ComplexityComplex},
		{"moderate", "Add a testimonials section with three quotes and a heading that merchants can edit",
			[]string{"sections/testimonials.liquid", "templates/index.json"}, ComplexityModerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Assess(tt.text, tt.files))
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	s := newSelector()
	req := Request{Text: "Add a testimonials section with three quotes and a heading that merchants can edit", Plan: "pro"}
	first := s.Select(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Select(req))
	}
}

func TestSelect_TierShapes(t *testing.T) {
	s := newSelector()

	simple := s.Build(Simple)
	assert.Equal(t, 20, simple.MaxIterations)
	assert.False(t, simple.SpecialistDelegationAllowed)
	assert.Zero(t, simple.MaxDelegations)
	assert.False(t, simple.RequireReview)
	assert.Equal(t, ProfileEconomy, simple.ModelProfile)

	hybrid := s.Build(Hybrid)
	assert.True(t, hybrid.SpecialistDelegationAllowed)
	assert.Equal(t, 3, hybrid.MaxDelegations)
	assert.True(t, hybrid.FileScoped)
	assert.True(t, hybrid.AllowsDomain(DomainLiquid))
	assert.False(t, hybrid.AllowsDomain(DomainJavaScript))

	god := s.Build(GodMode)
	assert.Equal(t, 80, god.MaxIterations)
	assert.True(t, god.RequireReview)
	assert.ElementsMatch(t, AllDomains, god.SpecialistDomains)
	assert.Equal(t, ProfilePremium, god.ModelProfile)
	assert.Contains(t, god.Gates, "scope-boundary")
}

func TestSelect_PlanCaps(t *testing.T) {
	s := newSelector()
	complexReq := "Redesign the entire theme navigation"

	assert.Equal(t, GodMode, s.Select(Request{Text: complexReq}).Tier)
	assert.Equal(t, Hybrid, s.Select(Request{Text: complexReq, Plan: "pro"}).Tier)
	assert.Equal(t, Simple, s.Select(Request{Text: complexReq, Plan: "starter"}).Tier)
	assert.Equal(t, Simple, s.Select(Request{Text: complexReq, Plan: "unknown-plan"}).Tier)
	assert.Equal(t, Hybrid, s.Select(Request{Text: "typo", Tier: Hybrid, Plan: "enterprise"}).Tier)
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{
		"SIMPLE": Simple, "hybrid": Hybrid, "GOD_MODE": GodMode, "god-mode": GodMode,
	} {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseTier("ultra")
	assert.Error(t, err)
}

func TestEscalate(t *testing.T) {
	assert.Equal(t, Simple, Escalate(Simple, 1.0))
	assert.Equal(t, Hybrid, Escalate(Simple, 1.5))
	assert.Equal(t, GodMode, Escalate(Simple, 2.0))
	assert.Equal(t, GodMode, Escalate(Hybrid, 2.0))
	assert.Equal(t, GodMode, Escalate(GodMode, 1.5))
}
