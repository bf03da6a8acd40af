// Package routing maps an action class and strategy tier to a model.
//
// The Router is a lookup table built once from configuration; Route has no
// side effects, so model assignment changes never touch loop logic.
package routing

import (
	"fmt"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
)

// ActionClass is the kind of model call being made.
type ActionClass string

const (
	// Classify always resolves to the cheapest model. It is reserved for a
	// model-backed triage step; complexity is currently assessed
	// heuristically by strategy.Assess and no run issues Classify calls.
	Classify   ActionClass = config.ClassClassify
	Plan       ActionClass = config.ClassPlan
	Specialize ActionClass = config.ClassSpecialize
	Review     ActionClass = config.ClassReview
)

// Router resolves model identifiers.
type Router struct {
	cheapest string
	table    map[strategy.Tier]map[ActionClass]string
	pricing  map[string]config.PriceConfig
}

// NewRouter builds the routing table from configuration.
func NewRouter(cfg config.RoutingConfig) (*Router, error) {
	if cfg.Cheapest == "" {
		return nil, fmt.Errorf("routing: cheapest model is required")
	}
	r := &Router{
		cheapest: cfg.Cheapest,
		table:    make(map[strategy.Tier]map[ActionClass]string, len(cfg.Models)),
		pricing:  make(map[string]config.PriceConfig, len(cfg.Pricing)),
	}
	for key, classes := range cfg.Models {
		tier, err := strategy.ParseTier(key)
		if err != nil {
			return nil, fmt.Errorf("routing: %w", err)
		}
		row := make(map[ActionClass]string, len(classes))
		for class, model := range classes {
			switch ActionClass(class) {
			case Classify, Plan, Specialize, Review:
			default:
				return nil, fmt.Errorf("routing: unknown action class %q for tier %s", class, tier)
			}
			row[ActionClass(class)] = model
		}
		r.table[tier] = row
	}
	for model, price := range cfg.Pricing {
		r.pricing[model] = price
	}
	return r, nil
}

// Route returns the model for an action class under a tier. Classification
// always uses the cheapest model; a class missing from a tier falls back to
// that tier's planning model, then to the cheapest model.
func (r *Router) Route(class ActionClass, tier strategy.Tier) string {
	if class == Classify {
		return r.cheapest
	}
	row := r.table[tier]
	if m := row[class]; m != "" {
		return m
	}
	if m := row[Plan]; m != "" {
		return m
	}
	return r.cheapest
}

// CostCents prices a completion. Unknown models cost nothing.
func (r *Router) CostCents(model string, inputTokens, outputTokens int) float64 {
	p, ok := r.pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.InputCents + float64(outputTokens)*p.OutputCents) / 1_000_000
}
