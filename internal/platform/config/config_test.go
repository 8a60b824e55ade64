package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Engine.ActivationThreshold != 0.75 {
		t.Fatalf("expected default threshold 0.75, got %v", cfg.Engine.ActivationThreshold)
	}
	if cfg.Engine.MaxCascadeDepth != 3 {
		t.Fatalf("expected default depth 3, got %d", cfg.Engine.MaxCascadeDepth)
	}
	if cfg.Engine.TriggerDelay != 5*time.Second {
		t.Fatalf("expected default delay 5s, got %v", cfg.Engine.TriggerDelay)
	}
	if cfg.Pricing.AdjustmentCap != 0.30 {
		t.Fatalf("expected default cap 0.30, got %v", cfg.Pricing.AdjustmentCap)
	}
	if cfg.PubSub.OrderCompletedSub != "order-completed" {
		t.Fatalf("expected default subscription name, got %q", cfg.PubSub.OrderCompletedSub)
	}
	if cfg.Outcome.PriceFloorRatio != 0.8 || cfg.Outcome.PriceCeilingRatio != 1.3 {
		t.Fatalf("expected default price bounds [0.8, 1.3], got [%v, %v]", cfg.Outcome.PriceFloorRatio, cfg.Outcome.PriceCeilingRatio)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"ENGINE_ACTIVATION_THRESHOLD": "0.50",
		"ENGINE_MAX_CASCADE_DEPTH":    "5",
		"ENGINE_TRIGGER_DELAY":        "30s",
		"ENGINE_FIRESTORE_PROJECT_ID": "drivelane-dev",
		"ENGINE_REDIS_ADDR":           "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Engine.ActivationThreshold != 0.50 {
		t.Fatalf("expected threshold 0.50, got %v", cfg.Engine.ActivationThreshold)
	}
	if cfg.Engine.MaxCascadeDepth != 5 {
		t.Fatalf("expected depth 5, got %d", cfg.Engine.MaxCascadeDepth)
	}
	if cfg.Engine.TriggerDelay != 30*time.Second {
		t.Fatalf("expected delay 30s, got %v", cfg.Engine.TriggerDelay)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected redis addr, got %q", cfg.Redis.Addr)
	}
	// PubSub project falls back to the Firestore project when unset.
	if cfg.PubSub.ProjectID != "drivelane-dev" {
		t.Fatalf("expected pubsub project fallback, got %q", cfg.PubSub.ProjectID)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "threshold above one",
			env:  map[string]string{"ENGINE_ACTIVATION_THRESHOLD": "1.5"},
			want: "activation threshold",
		},
		{
			name: "zero depth",
			env:  map[string]string{"ENGINE_MAX_CASCADE_DEPTH": "0"},
			want: "max cascade depth",
		},
		{
			name: "cap at one",
			env:  map[string]string{"ENGINE_PRICE_ADJUSTMENT_CAP": "1.0"},
			want: "price adjustment cap",
		},
		{
			name: "inverted price bounds",
			env: map[string]string{
				"ENGINE_OUTCOME_PRICE_FLOOR":   "1.4",
				"ENGINE_OUTCOME_PRICE_CEILING": "1.3",
			},
			want: "price bounds",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(tc.env))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadIgnoresUnparseableNumbers(t *testing.T) {
	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"ENGINE_MAX_CASCADE_DEPTH": "many",
		"ENGINE_TRIGGER_DELAY":     "soon",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxCascadeDepth != 3 || cfg.Engine.TriggerDelay != 5*time.Second {
		t.Fatalf("expected defaults for unparseable values, got %+v", cfg.Engine)
	}
}
