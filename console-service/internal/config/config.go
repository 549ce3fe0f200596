package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/snapquant/services/console-service/internal/account"
	"github.com/snapquant/services/console-service/internal/checkout"
	sharedauth "github.com/snapquant/services/shared/auth"
	"github.com/snapquant/services/shared/envconfig"
)

// Datastore backends.
const (
	DatastoreMemory    = "memory"
	DatastoreFirestore = "firestore"
)

// Generation backends.
const (
	BackendGemini = "gemini"
	BackendProxy  = "proxy"
	BackendNone   = "none"
)

// Config encapsulates the runtime configuration for the console service.
type Config struct {
	Port                  string `validate:"required,numeric"`
	GCPProjectID          string
	Datastore             string `validate:"oneof=memory firestore"`
	Firestore             FirestoreConfig
	Auth                  AuthConfig
	OIDC                  OIDCConfig
	Generation            GenerationConfig
	ScriptsBucket         string
	SessionTTL            time.Duration `validate:"gt=0"`
	CheckoutRedirectDelay time.Duration `validate:"gte=0"`
	RecentLoginWindow     time.Duration `validate:"gt=0"`
	CookieSecure          bool
}

// FirestoreConfig tailors Firestore client behavior.
type FirestoreConfig struct {
	DatabaseID   string
	EmulatorHost string
}

// AuthConfig stores bearer token verification setup.
type AuthConfig struct {
	Mode      sharedauth.Mode
	ProjectID string
	ClientID  string
	JWKSURL   string
}

// OIDCConfig enables the server-side sign-in flow when Issuer is set.
type OIDCConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string `validate:"omitempty,url"`
	AllowedDomains []string
}

// Enabled reports whether the OIDC flow is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

// GenerationConfig defines how scripts are generated.
type GenerationConfig struct {
	Backend           string `validate:"oneof=gemini proxy none"`
	APIKey            string
	Model             string
	MaxOutputTokens   int `validate:"gt=0"`
	UseVertex         bool
	Location          string
	ProxyURL          string `validate:"omitempty,url"`
	ProxyModel        string
	ProxyAllowPrivate bool
	MaxAttempts       int `validate:"gt=0,lte=10"`
	StarterPerWeek    int `validate:"gt=0"`
}

// Load reads environment variables into Config with validation.
func Load() (Config, error) {
	projectID := envconfig.Get("GCP_PROJECT_ID", "")
	cfg := Config{
		Port:         envconfig.Get("PORT", "8080"),
		GCPProjectID: projectID,
		Datastore:    strings.ToLower(envconfig.Get("DATASTORE", DatastoreFirestore)),
		Firestore: FirestoreConfig{
			DatabaseID:   envconfig.Get("FIRESTORE_DATABASE_ID", "(default)"),
			EmulatorHost: envconfig.Get("FIRESTORE_EMULATOR_HOST", ""),
		},
		Auth: AuthConfig{
			Mode:      sharedauth.Mode(strings.ToLower(envconfig.Get("AUTH_MODE", string(sharedauth.ModeFirebase)))),
			ProjectID: envconfig.Get("FIREBASE_PROJECT_ID", projectID),
			ClientID:  envconfig.Get("GOOGLE_CLIENT_ID", ""),
			JWKSURL:   envconfig.Get("AUTH_JWKS_URL", ""),
		},
		OIDC: OIDCConfig{
			Issuer:         envconfig.Get("OIDC_ISSUER", ""),
			ClientID:       envconfig.Get("GOOGLE_CLIENT_ID", ""),
			ClientSecret:   envconfig.Get("OIDC_CLIENT_SECRET", ""),
			RedirectURL:    envconfig.Get("OIDC_REDIRECT_URL", ""),
			AllowedDomains: envconfig.GetList("AUTH_ALLOWED_DOMAINS"),
		},
		Generation: GenerationConfig{
			Backend:           strings.ToLower(envconfig.Get("GENERATION_BACKEND", BackendGemini)),
			APIKey:            resolveAPIKey(),
			Model:             envconfig.Get("GEMINI_MODEL", "gemini-2.0-flash"),
			MaxOutputTokens:   envconfig.GetInt("GENERATION_MAX_OUTPUT_TOKENS", 2048),
			UseVertex:         envconfig.GetBool("GOOGLE_GENAI_USE_VERTEXAI", false),
			Location:          envconfig.Get("GOOGLE_CLOUD_LOCATION", ""),
			ProxyURL:          envconfig.Get("OPENAI_PROXY_URL", ""),
			ProxyModel:        envconfig.Get("OPENAI_MODEL", "gpt-5-mini"),
			ProxyAllowPrivate: envconfig.GetBool("OPENAI_PROXY_ALLOW_PRIVATE", false),
			MaxAttempts:       envconfig.GetInt("GENERATION_MAX_ATTEMPTS", 3),
			StarterPerWeek:    envconfig.GetInt("STARTER_GENERATIONS_PER_WEEK", 1),
		},
		ScriptsBucket:         envconfig.Get("SCRIPTS_BUCKET", ""),
		SessionTTL:            envconfig.GetDuration("SESSION_TTL", 24*time.Hour),
		CheckoutRedirectDelay: envconfig.GetDuration("CHECKOUT_REDIRECT_DELAY", checkout.DefaultRedirectDelay),
		RecentLoginWindow:     envconfig.GetDuration("RECENT_LOGIN_WINDOW", account.DefaultRecentLoginWindow),
		CookieSecure:          envconfig.GetBool("COOKIE_SECURE", true),
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

	switch cfg.Auth.Mode {
	case sharedauth.ModeFirebase:
		if cfg.Auth.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID or GCP_PROJECT_ID is required when AUTH_MODE=firebase")
		}
	case sharedauth.ModeGoogle:
		if cfg.Auth.ClientID == "" {
			return fmt.Errorf("GOOGLE_CLIENT_ID is required when AUTH_MODE=google")
		}
	case sharedauth.ModeNoop:
		// no-op
	default:
		return fmt.Errorf("unsupported auth mode: %s", cfg.Auth.Mode)
	}

	if cfg.OIDC.Enabled() && (cfg.OIDC.ClientID == "" || cfg.OIDC.RedirectURL == "") {
		return fmt.Errorf("GOOGLE_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER is set")
	}

	switch cfg.Generation.Backend {
	case BackendGemini:
		if cfg.Generation.UseVertex && strings.TrimSpace(cfg.Generation.Location) == "" {
			return fmt.Errorf("GOOGLE_CLOUD_LOCATION is required when GOOGLE_GENAI_USE_VERTEXAI=true")
		}
	case BackendProxy:
		if cfg.Generation.ProxyURL == "" {
			return fmt.Errorf("OPENAI_PROXY_URL is required when GENERATION_BACKEND=proxy")
		}
	}

	return nil
}

func resolveAPIKey() string {
	if apiKey := envconfig.Get("GEMINI_API_KEY", ""); strings.TrimSpace(apiKey) != "" {
		return apiKey
	}
	return envconfig.Get("GOOGLE_API_KEY", "")
}
