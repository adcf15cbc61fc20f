package strategy

import (
	"errors"
	"testing"
)

func TestLookupUnknown(t *testing.T) {
	t.Parallel()
	_, err := Builtin().Lookup("does_not_exist")
	if !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("Lookup error = %v, want ErrStrategyNotFound", err)
	}
}

func TestFormatSubstitutesPlaceholders(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Strategy{
		ID:           "test",
		Task:         "swap {percentage}% on {chain}",
		Placeholders: []string{"percentage", "chain"},
	})
	got, err := r.Format("test", map[string]string{"percentage": "25", "chain": "core"})
	if err != nil {
		t.Fatalf("Format error: %v", err)
	}
	if want := "swap 25% on core"; got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatMissingPlaceholder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Strategy{
		ID:           "test",
		Task:         "move {percentage}% into {vault_tier} vaults",
		Placeholders: []string{"percentage", "vault_tier"},
	})
	_, err := r.Format("test", map[string]string{"percentage": "25"})
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("Format error = %v, want *TemplateError", err)
	}
	if te.Placeholder != "vault_tier" {
		t.Fatalf("TemplateError.Placeholder = %q, want %q", te.Placeholder, "vault_tier")
	}
}

func TestBuiltinCatalogIsWellFormed(t *testing.T) {
	t.Parallel()
	all := Builtin().All()
	if len(all) == 0 {
		t.Fatal("builtin catalog is empty")
	}
	prev := ""
	for _, s := range all {
		if s.ID <= prev {
			t.Fatalf("All() not sorted: %q after %q", s.ID, prev)
		}
		prev = s.ID
		if s.Task == "" || s.Frequency == "" || s.Chain == "" {
			t.Fatalf("strategy %s missing required fields", s.ID)
		}
	}
}
