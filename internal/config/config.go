package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	// Tool metadata published at the config endpoint.
	ToolTitle       string
	ToolDescription string

	// Lenient deployment policy: unknown deployment_ids are created inactive
	// instead of rejected.
	AutoCreateDeployments bool

	// Launch/state lifetimes.
	StateTTL  time.Duration
	LaunchTTL time.Duration

	// Grace window old pool keys stay active after a rotation.
	KeyRotationGrace time.Duration

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	return Config{
		HTTPAddr:              addr,
		PublicURL:             pub,
		DBDriver:              envOr("DB_DRIVER", "sqlite"),
		DBDSN:                 envOr("DB_DSN", ""),
		ToolTitle:             envOr("LTI_TOOL_TITLE", "LTI Tool"),
		ToolDescription:       envOr("LTI_TOOL_DESCRIPTION", ""),
		AutoCreateDeployments: envBool("LTI_AUTO_CREATE_DEPLOYMENTS", false),
		StateTTL:              envDuration("LTI_STATE_TTL", time.Hour),
		LaunchTTL:             envDuration("LTI_LAUNCH_TTL", 24*time.Hour),
		KeyRotationGrace:      envDuration("LTI_KEY_ROTATION_GRACE", 7*24*time.Hour),
		AdminUser:             envOr("ADMIN_USER", "admin"),
		AdminPassHash:         os.Getenv("ADMIN_PASS_HASH"),
		CORSOrigins:           csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

// LaunchURL is the tool redirect_uri where platforms POST id_tokens.
func (c Config) LaunchURL() string { return c.PublicURL + "/lti/launch" }

// KeysetURL is where this tool publishes its JWKS.
func (c Config) KeysetURL() string { return c.PublicURL + "/.well-known/jwks.json" }

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
