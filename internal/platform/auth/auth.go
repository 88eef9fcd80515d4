// Package auth authenticates API requests. Three modes are supported:
// oidc (bearer token verification), gateway (signed internal headers set by
// the edge proxy) and dev (fixed identity for local work).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casehound/casehound/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeGateway  Mode = "gateway"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	GatewaySecret  string
	GatewayMaxSkew time.Duration

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeDev))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeGateway):
		mode = ModeGateway
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: oidc, gateway, dev, disabled (got %q)", modeRaw)
	}

	maxSkew, err := env.Duration("AUTH_GATEWAY_MAX_SKEW", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:           mode,
		RolesClaim:     env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:     env.String("AUTH_EMAIL_CLAIM", "email"),
		GatewaySecret:  env.String("AUTH_GATEWAY_SECRET", ""),
		GatewayMaxSkew: maxSkew,
		OIDCIssuerURL:  env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:   env.String("OIDC_CLIENT_ID", ""),
		DevSubject:     env.String("DEV_AUTH_SUBJECT", "dev-analyst"),
		DevEmail:       env.String("DEV_AUTH_EMAIL", "dev-analyst@example.local"),
		DevRoles:       parseCSV(env.String("DEV_AUTH_ROLES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(string(c.Mode)) == "" {
		return errors.New("AUTH_MODE is required")
	}
	if strings.TrimSpace(c.RolesClaim) == "" {
		return errors.New("AUTH_ROLES_CLAIM is required")
	}
	if strings.TrimSpace(c.EmailClaim) == "" {
		return errors.New("AUTH_EMAIL_CLAIM is required")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case ModeGateway:
		if strings.TrimSpace(c.GatewaySecret) == "" {
			return errors.New("AUTH_GATEWAY_SECRET is required when AUTH_MODE=gateway")
		}
		if c.GatewayMaxSkew <= 0 {
			return errors.New("AUTH_GATEWAY_MAX_SKEW must be positive")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}

	return nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
