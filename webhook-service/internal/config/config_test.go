package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "snapquant-prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Datastore != DatastoreFirestore || cfg.Firestore.DatabaseID != "(default)" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StripeEnabled() {
		t.Fatal("stripe should be disabled without a webhook secret")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"firestore without project", map[string]string{}, "GCP_PROJECT_ID"},
		{"unknown datastore", map[string]string{"DATASTORE": "redis"}, "invalid config"},
		{"bad port", map[string]string{"DATASTORE": "memory", "PORT": "http"}, "invalid config"},
		{"stripe key without secret", map[string]string{"DATASTORE": "memory", "STRIPE_SECRET_KEY": "sk_test"}, "STRIPE_WEBHOOK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GCP_PROJECT_ID", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
