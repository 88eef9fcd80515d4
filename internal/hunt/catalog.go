package hunt

import "github.com/casehound/casehound/internal/domain"

func builtinFactories() []Factory {
	return []Factory{domainRecon, ipReputation, accountCompromise}
}

// domainRecon investigates a suspicious domain: registration data, DNS
// resolution, then reputation scoring over the resolved addresses.
func domainRecon() domain.HuntDefinition {
	return domain.HuntDefinition{
		Name:        "domain-recon",
		DisplayName: "Domain Reconnaissance",
		Description: "Registration, resolution and reputation for a suspicious domain.",
		Category:    "infrastructure",
		Version:     "1.2.0",
		InitialParameterSchema: map[string]domain.ParameterSpec{
			"domain": {
				Type:        "string",
				Required:    true,
				Description: "Domain name under investigation.",
			},
			"resolver": {
				Type:        "string",
				Default:     "1.1.1.1",
				HasDefault:  true,
				Description: "DNS resolver to query.",
			},
		},
		Steps: []domain.HuntStepDefinition{
			{
				StepID:      "whois",
				PluginName:  "whois_lookup",
				DisplayName: "WHOIS lookup",
				ParameterMapping: map[string]string{
					"domain": "initial.domain",
				},
				TimeoutSeconds: 30,
				MaxRetries:     2,
				SaveToCase:     true,
			},
			{
				StepID:      "resolve",
				PluginName:  "dns_resolve",
				DisplayName: "DNS resolution",
				ParameterMapping: map[string]string{
					"domain":   "initial.domain",
					"resolver": "initial.resolver",
				},
				TimeoutSeconds: 20,
			},
			{
				StepID:      "reputation",
				PluginName:  "ip_reputation",
				DisplayName: "IP reputation",
				DependsOn:   []string{"resolve"},
				ParameterMapping: map[string]string{
					"addresses": "resolve.results",
				},
				Optional:       true,
				TimeoutSeconds: 60,
				SaveToCase:     true,
			},
			{
				StepID:      "report",
				PluginName:  "summary_report",
				DisplayName: "Summary report",
				DependsOn:   []string{"whois", "resolve"},
				ParameterMapping: map[string]string{
					"registrar": "whois.results.0.registrar",
					"addresses": "resolve.results",
				},
				StaticParameters: domain.Metadata{
					"format": "markdown",
				},
				SaveToCase: true,
			},
		},
	}
}

// ipReputation scores a single address against threat intelligence sources.
func ipReputation() domain.HuntDefinition {
	return domain.HuntDefinition{
		Name:        "ip-reputation",
		DisplayName: "IP Reputation",
		Description: "Geolocation and threat scoring for one address.",
		Category:    "infrastructure",
		Version:     "1.0.1",
		InitialParameterSchema: map[string]domain.ParameterSpec{
			"ip": {
				Type:        "string",
				Required:    true,
				Description: "Address under investigation.",
			},
		},
		Steps: []domain.HuntStepDefinition{
			{
				StepID:      "geoip",
				PluginName:  "geoip_lookup",
				DisplayName: "Geolocation",
				ParameterMapping: map[string]string{
					"ip": "initial.ip",
				},
				TimeoutSeconds: 15,
			},
			{
				StepID:      "score",
				PluginName:  "ip_reputation",
				DisplayName: "Reputation score",
				DependsOn:   []string{"geoip"},
				ParameterMapping: map[string]string{
					"ip":      "initial.ip",
					"country": "geoip.results.0.country",
				},
				TimeoutSeconds: 60,
				MaxRetries:     1,
				SaveToCase:     true,
			},
		},
	}
}

// accountCompromise checks an account against breach corpora and, when a hit
// is found, inspects mailbox forwarding rules.
func accountCompromise() domain.HuntDefinition {
	return domain.HuntDefinition{
		Name:        "account-compromise",
		DisplayName: "Account Compromise",
		Description: "Breach exposure and mailbox rule review for one account.",
		Category:    "identity",
		Version:     "0.9.0",
		InitialParameterSchema: map[string]domain.ParameterSpec{
			"email": {
				Type:        "string",
				Required:    true,
				Description: "Account address under investigation.",
			},
			"lookback_days": {
				Type:        "integer",
				Default:     90,
				HasDefault:  true,
				Description: "How far back to inspect mailbox activity.",
			},
		},
		Steps: []domain.HuntStepDefinition{
			{
				StepID:      "breaches",
				PluginName:  "breach_lookup",
				DisplayName: "Breach exposure",
				ParameterMapping: map[string]string{
					"email": "initial.email",
				},
				TimeoutSeconds: 30,
				MaxRetries:     2,
				SaveToCase:     true,
			},
			{
				StepID:      "mailbox_rules",
				PluginName:  "mailbox_rules",
				DisplayName: "Mailbox rules",
				DependsOn:   []string{"breaches"},
				ParameterMapping: map[string]string{
					"email":    "initial.email",
					"lookback": "initial.lookback_days",
				},
				Optional:       true,
				TimeoutSeconds: 120,
			},
			{
				StepID:      "signin_review",
				PluginName:  "signin_review",
				DisplayName: "Sign-in review",
				DependsOn:   []string{"breaches"},
				ParameterMapping: map[string]string{
					"email":    "initial.email",
					"lookback": "initial.lookback_days",
				},
				TimeoutSeconds: 120,
				SaveToCase:     true,
			},
		},
	}
}
