package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDraftDefaults(t *testing.T) {
	t.Setenv("DRAFT_FRESHNESS_MINUTES", "")
	t.Setenv("PAYMENT_TOLERANCE", "")
	t.Setenv("CURRENCY_SYMBOL", "")

	cfg := Load()
	if cfg.DraftFreshness != 2*time.Hour {
		t.Fatalf("expected 2h freshness window, got %s", cfg.DraftFreshness)
	}
	if cfg.PaymentTolerance.String() != "0.01" {
		t.Fatalf("expected 0.01 tolerance, got %s", cfg.PaymentTolerance)
	}
	if cfg.CurrencySymbol != "$" {
		t.Fatalf("expected $ symbol, got %q", cfg.CurrencySymbol)
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("DRAFT_FRESHNESS_MINUTES", "-5")
	t.Setenv("PAYMENT_TOLERANCE", "abc")
	t.Setenv("SNOWFLAKE_NODE", "4096")
	t.Setenv("LOOKUP_CACHE_TTL_SECONDS", "0")

	cfg := Load()
	if cfg.DraftFreshness != 2*time.Hour {
		t.Fatalf("expected fallback freshness, got %s", cfg.DraftFreshness)
	}
	if cfg.PaymentTolerance.String() != "0.01" {
		t.Fatalf("expected fallback tolerance, got %s", cfg.PaymentTolerance)
	}
	if cfg.SnowflakeNode != 1 {
		t.Fatalf("expected fallback node 1, got %d", cfg.SnowflakeNode)
	}
	if cfg.LookupCacheTTLSeconds != 20 {
		t.Fatalf("expected fallback ttl 20, got %d", cfg.LookupCacheTTLSeconds)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("DRAFT_FRESHNESS_MINUTES", "30")
	t.Setenv("PAYMENT_TOLERANCE", "0.05")
	t.Setenv("PORT", "9090")

	cfg := Load()
	if cfg.DraftFreshness != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", cfg.DraftFreshness)
	}
	if cfg.PaymentTolerance.String() != "0.05" {
		t.Fatalf("expected 0.05, got %s", cfg.PaymentTolerance)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.Address())
	}
}
