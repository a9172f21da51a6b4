// Package prurl parses pull request URLs into provider, repo, and number.
// It understands the canonical hosts plus any self-hosted instance named in
// the service configuration.
package prurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PRRef is a parsed pull request URL.
type PRRef struct {
	// Provider is the forge type (github, gitlab, gitea).
	Provider string
	// Host is the URL host, e.g. gitlab.example.com.
	Host   string
	Owner  string
	Repo   string
	Number int
}

// Parser resolves hosts to provider types.
type Parser struct {
	hosts map[string]string
}

// NewParser creates a Parser. Self-hosted instances are registered with
// RegisterHost; canonical hosts are recognized without registration.
func NewParser() *Parser {
	return &Parser{hosts: make(map[string]string)}
}

// RegisterHost maps a host to a provider type, e.g. git.example.com -> gitea.
func (p *Parser) RegisterHost(host, provider string) {
	if host == "" {
		return
	}
	p.hosts[strings.ToLower(host)] = provider
}

// Parse parses a pull request URL. Supported forms:
//
//	https://github.com/owner/repo/pull/123
//	https://gitlab.com/group/sub/repo/-/merge_requests/123
//	https://git.example.com/owner/repo/pulls/123   (gitea)
func (p *Parser) Parse(raw string) (*PRRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty pull request URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return nil, fmt.Errorf("missing host in URL %q", raw)
	}

	provider := p.provider(host)
	if provider == "" {
		return nil, fmt.Errorf("unknown forge host %q; add it to the providers config", host)
	}

	ref, err := parsePath(provider, u.Path)
	if err != nil {
		return nil, err
	}
	ref.Provider = provider
	ref.Host = host
	return ref, nil
}

func (p *Parser) provider(host string) string {
	if provider, ok := p.hosts[host]; ok {
		return provider
	}
	switch {
	case strings.Contains(host, "github"):
		return "github"
	case strings.Contains(host, "gitlab"):
		return "gitlab"
	case strings.Contains(host, "gitea") || strings.Contains(host, "forgejo"):
		return "gitea"
	}
	return ""
}

func parsePath(provider, path string) (*PRRef, error) {
	parts := splitPath(path)

	switch provider {
	case "github":
		// owner/repo/pull/123
		if len(parts) == 4 && parts[2] == "pull" {
			return refFrom(parts[0], parts[1], parts[3])
		}
	case "gitea":
		// owner/repo/pulls/123
		if len(parts) == 4 && parts[2] == "pulls" {
			return refFrom(parts[0], parts[1], parts[3])
		}
	case "gitlab":
		// group[/sub...]/repo/-/merge_requests/123; the namespace may nest.
		for i := 2; i < len(parts)-1; i++ {
			if parts[i] == "-" && parts[i+1] == "merge_requests" && i+2 < len(parts) {
				owner := strings.Join(parts[:i-1], "/")
				return refFrom(owner, parts[i-1], parts[i+2])
			}
		}
	}
	return nil, fmt.Errorf("unrecognized %s pull request path %q", provider, path)
}

func splitPath(path string) []string {
	var parts []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func refFrom(owner, repo, number string) (*PRRef, error) {
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid pull request number %q", number)
	}
	return &PRRef{Owner: owner, Repo: repo, Number: n}, nil
}
