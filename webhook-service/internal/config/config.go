package config

import (
	"fmt"
	"strings"

	"github.com/snapquant/services/shared/envconfig"
)

// Datastore backends.
const (
	DatastoreMemory    = "memory"
	DatastoreFirestore = "firestore"
)

// Config encapsulates the runtime configuration for the webhook service.
type Config struct {
	Port         string `validate:"required,numeric"`
	GCPProjectID string
	Datastore    string `validate:"oneof=memory firestore"`
	Firestore    FirestoreConfig
	// PolarWebhookSecret enables Standard Webhooks verification on /webhook. Unsigned events are accepted without it.
	PolarWebhookSecret  string
	StripeWebhookSecret string
	StripeSecretKey     string
}

// FirestoreConfig tailors Firestore client behavior.
type FirestoreConfig struct {
	DatabaseID   string
	EmulatorHost string
}

// StripeEnabled reports whether /webhook/stripe is served.
func (c Config) StripeEnabled() bool {
	return c.StripeWebhookSecret != ""
}

// Load reads environment variables into Config with validation.
func Load() (Config, error) {
	cfg := Config{
		Port:         envconfig.Get("PORT", "8080"),
		GCPProjectID: envconfig.Get("GCP_PROJECT_ID", ""),
		Datastore:    strings.ToLower(envconfig.Get("DATASTORE", DatastoreFirestore)),
		Firestore: FirestoreConfig{
			DatabaseID:   envconfig.Get("FIRESTORE_DATABASE_ID", "(default)"),
			EmulatorHost: envconfig.Get("FIRESTORE_EMULATOR_HOST", ""),
		},
		PolarWebhookSecret:  envconfig.Get("POLAR_WEBHOOK_SECRET", ""),
		StripeWebhookSecret: envconfig.Get("STRIPE_WEBHOOK_SECRET", ""),
		StripeSecretKey:     envconfig.Get("STRIPE_SECRET_KEY", ""),
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if err := envconfig.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Datastore == DatastoreFirestore && cfg.GCPProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required when DATASTORE=firestore")
	}
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	return nil
}
