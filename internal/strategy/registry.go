package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrStrategyNotFound is returned by Lookup for unknown strategy ids. The
// executor surfaces this as a domain failure, not an engine fault.
var ErrStrategyNotFound = errors.New("strategy not found")

// TemplateError reports a declared placeholder with no matching parameter.
type TemplateError struct {
	StrategyID  string
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("strategy %s: no value for placeholder {%s}", e.StrategyID, e.Placeholder)
}

// Strategy is a subscription template. Task holds {placeholder} tokens that
// are substituted with the subscriber's stored parameters at execution time.
type Strategy struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Task         string   `json:"task"`
	Placeholders []string `json:"placeholders"`
	Frequency    string   `json:"frequency"`
	Chain        string   `json:"chain"`
	Tokens       []string `json:"tokens"`
	Protocols    []string `json:"protocols"`
}

type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.ID] = s
	}
	return &Registry{strategies: m}
}

// Builtin returns the registry preloaded with the stock strategy catalog.
func Builtin() *Registry {
	return NewRegistry(
		Strategy{
			ID:           "core_stablecoin_optimizer",
			Name:         "Core Stablecoin Yield Optimizer",
			Description:  "Optimizes best yield between USDT and USDC on Core chain daily",
			Task:         "Analyze yields for USDT and USDC on {chain} chain, swap {percentage}% of funds to the higher yielding stablecoin, and deposit into the best lending protocol",
			Placeholders: []string{"percentage", "chain"},
			Frequency:    "daily",
			Chain:        "core",
			Tokens:       []string{"USDT", "USDC"},
			Protocols:    []string{"Colend"},
		},
		Strategy{
			ID:           "arbitrum_ausd_vault_rotator",
			Name:         "Arbitrum AUSD Vault Rotator",
			Description:  "Moves a share of AUSD to the highest-yielding vault on Arbitrum daily",
			Task:         "Compare AUSD vault yields on {chain}, move {percentage}% of AUSD to the highest-yielding vault",
			Placeholders: []string{"percentage", "chain"},
			Frequency:    "daily",
			Chain:        "arbitrum",
			Tokens:       []string{"AUSD"},
			Protocols:    []string{"Aave"},
		},
		Strategy{
			ID:           "core_weekly_rebalance",
			Name:         "Core Weekly Rebalance",
			Description:  "Rebalances stablecoin lending positions on Core chain every Monday morning",
			Task:         "Review lending positions on {chain} chain and rebalance {percentage}% of funds toward the best current rates",
			Placeholders: []string{"percentage", "chain"},
			Frequency:    "cron:0 9 * * 1",
			Chain:        "core",
			Tokens:       []string{"USDT", "USDC"},
			Protocols:    []string{"Colend"},
		},
	)
}

func (r *Registry) Lookup(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return s, nil
}

// All lists the catalog in stable id order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Format substitutes every declared placeholder in the strategy's task
// template with the matching parameter value.
func (r *Registry) Format(id string, params map[string]string) (string, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return "", err
	}
	task := s.Task
	for _, ph := range s.Placeholders {
		v, ok := params[ph]
		if !ok {
			return "", &TemplateError{StrategyID: id, Placeholder: ph}
		}
		task = strings.ReplaceAll(task, "{"+ph+"}", v)
	}
	return task, nil
}
