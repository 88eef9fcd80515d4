package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Identity headers set by the edge gateway, authenticated with a shared
// secret HMAC over the request canonical form.
const (
	HeaderSubject = "X-Casehound-Subject"
	HeaderEmail   = "X-Casehound-Email"
	HeaderRoles   = "X-Casehound-Roles"

	HeaderGatewayAuthTimestamp = "X-Casehound-Auth-Ts"
	HeaderGatewayAuthSignature = "X-Casehound-Auth-Sig"
)

type GatewayAuthenticator struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewGatewayAuthenticator(cfg Config) (*GatewayAuthenticator, error) {
	if cfg.Mode != ModeGateway {
		return nil, fmt.Errorf("auth mode must be gateway (got %q)", cfg.Mode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GatewayAuthenticator{
		secret:  cfg.GatewaySecret,
		maxSkew: cfg.GatewayMaxSkew,
		now:     time.Now,
	}, nil
}

func (a *GatewayAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))
	ts := r.Header.Get(HeaderGatewayAuthTimestamp)
	sig := r.Header.Get(HeaderGatewayAuthSignature)

	if err := VerifyGatewayAuthTimestamp(ts, a.now(), a.maxSkew); err != nil {
		return Identity{}, err
	}
	requestID := r.Header.Get("X-Request-Id")
	if err := VerifyGatewayAuthSignature(a.secret, ts, r.Method, r.URL.Path, requestID, subject, email, rolesRaw, sig); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}, nil
}

func ComputeGatewayAuthSignature(secret, ts, method, path, requestID, subject, email, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("gateway auth secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	msg := gatewayAuthCanonical(ts, method, path, requestID, subject, email, roles)
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifyGatewayAuthSignature(secret, ts, method, path, requestID, subject, email, roles, signature string) error {
	expected, err := ComputeGatewayAuthSignature(secret, ts, method, path, requestID, subject, email, roles)
	if err != nil {
		return err
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("signature is required")
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}

func VerifyGatewayAuthTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return errors.New("timestamp is required")
	}
	parsed, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}

	tsTime := time.Unix(parsed, 0).UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if tsTime.After(now.Add(maxSkew)) || tsTime.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}

func gatewayAuthCanonical(ts, method, path, requestID, subject, email, roles string) string {
	parts := []string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(email),
		strings.TrimSpace(roles),
	}
	return strings.Join(parts, "\n")
}
