// Package builtin ships the lookup capabilities the built-in hunt catalog
// delegates to: WHOIS and DNS resolution run locally, the intelligence
// lookups call operator-configured HTTP services.
package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/casehound/casehound/internal/domain"
	"github.com/casehound/casehound/internal/platform/env"
	"github.com/casehound/casehound/internal/plugin"
)

type Config struct {
	WhoisServer string
	HTTPTimeout time.Duration

	// Base URLs of the external intelligence services. A plugin whose URL is
	// unset fails its step with a configuration error.
	ReputationURL   string
	GeoIPURL        string
	BreachURL       string
	MailboxRulesURL string
	SigninReviewURL string
}

func ConfigFromEnv() (Config, error) {
	httpTimeout, err := env.Duration("CASEHOUND_PLUGIN_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	return Config{
		WhoisServer:     env.String("CASEHOUND_PLUGIN_WHOIS_SERVER", "whois.iana.org:43"),
		HTTPTimeout:     httpTimeout,
		ReputationURL:   env.String("CASEHOUND_PLUGIN_REPUTATION_URL", ""),
		GeoIPURL:        env.String("CASEHOUND_PLUGIN_GEOIP_URL", ""),
		BreachURL:       env.String("CASEHOUND_PLUGIN_BREACH_URL", ""),
		MailboxRulesURL: env.String("CASEHOUND_PLUGIN_MAILBOX_RULES_URL", ""),
		SigninReviewURL: env.String("CASEHOUND_PLUGIN_SIGNIN_REVIEW_URL", ""),
	}, nil
}

// RegisterAll adds every built-in capability to the registry.
func RegisterAll(registry *plugin.Registry, cfg Config) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	handles := map[string]plugin.Handle{
		"whois_lookup":   whoisLookup{server: cfg.WhoisServer},
		"dns_resolve":    dnsResolve{},
		"summary_report": summaryReport{},
		"ip_reputation":  httpLookup{name: "ip_reputation", baseURL: cfg.ReputationURL, client: client},
		"geoip_lookup":   httpLookup{name: "geoip_lookup", baseURL: cfg.GeoIPURL, client: client},
		"breach_lookup":  httpLookup{name: "breach_lookup", baseURL: cfg.BreachURL, client: client},
		"mailbox_rules":  httpLookup{name: "mailbox_rules", baseURL: cfg.MailboxRulesURL, client: client},
		"signin_review":  httpLookup{name: "signin_review", baseURL: cfg.SigninReviewURL, client: client},
	}
	for name, handle := range handles {
		registry.Register(name, handle)
	}
}

func stringParam(params domain.Metadata, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// dnsResolve resolves a domain to addresses, honoring an optional resolver
// parameter.
type dnsResolve struct{}

func (dnsResolve) Execute(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
	name := stringParam(params, "domain")
	if name == "" {
		return errors.New("domain parameter is required")
	}

	resolver := net.DefaultResolver
	if server := stringParam(params, "resolver"); server != "" {
		if !strings.Contains(server, ":") {
			server = net.JoinHostPort(server, "53")
		}
		dial := func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, server)
		}
		resolver = &net.Resolver{PreferGo: true, Dial: dial}
	}

	addrs, err := resolver.LookupHost(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	for _, addr := range addrs {
		emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{
			"domain":  name,
			"address": addr,
		}})
	}
	return nil
}

// whoisLookup queries a WHOIS server over TCP port 43 and parses the
// key/value response lines.
type whoisLookup struct {
	server string
}

func (p whoisLookup) Execute(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
	name := stringParam(params, "domain")
	if name == "" {
		return errors.New("domain parameter is required")
	}
	server := p.server
	if server == "" {
		server = "whois.iana.org:43"
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", server)
	if err != nil {
		return fmt.Errorf("whois dial %s: %w", server, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", name); err != nil {
		return fmt.Errorf("whois query: %w", err)
	}

	record := domain.Metadata{"domain": name, "server": server}
	scanner := bufio.NewScanner(io.LimitReader(conn, 1<<20))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), " ", "_"))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, exists := record[key]; !exists {
			record[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("whois read: %w", err)
	}

	emit(plugin.Event{Type: plugin.EventData, Data: record})
	return nil
}

// httpLookup calls an external intelligence service with the step's
// parameters as query values. The response is either a JSON object (one
// result) or a JSON array (one result per element).
type httpLookup struct {
	name    string
	baseURL string
	client  *http.Client
}

func (p httpLookup) Execute(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
	if strings.TrimSpace(p.baseURL) == "" {
		return fmt.Errorf("%s: service URL not configured", p.name)
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid service URL: %w", p.name, err)
	}
	q := u.Query()
	for key, value := range params {
		switch key {
		case "case_id", "save_to_case":
			continue
		}
		q.Set(key, fmt.Sprint(value))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s: %s: %s", p.name, resp.Status, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", p.name, err)
	}

	var list []domain.Metadata
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			emit(plugin.Event{Type: plugin.EventData, Data: item})
		}
		return nil
	}
	var single domain.Metadata
	if err := json.Unmarshal(raw, &single); err != nil {
		return fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	emit(plugin.Event{Type: plugin.EventData, Data: single})
	return nil
}

// summaryReport renders the collected findings into a human-readable
// summary.
type summaryReport struct{}

func (summaryReport) Execute(ctx context.Context, params domain.Metadata, emit func(plugin.Event)) error {
	var b strings.Builder
	b.WriteString("# Hunt summary\n\n")
	for key, value := range params {
		switch key {
		case "case_id", "save_to_case", "format":
			continue
		}
		fmt.Fprintf(&b, "- **%s**: %v\n", key, value)
	}

	emit(plugin.Event{Type: plugin.EventData, Data: domain.Metadata{
		"format":  "markdown",
		"summary": b.String(),
	}})
	return nil
}
