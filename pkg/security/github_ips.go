package security

import (
	"net"
	"net/http"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

// GitHub webhook IP ranges (from https://api.github.com/meta)
// These should be updated periodically.
var githubWebhookCIDRs = []string{
	"192.30.252.0/22",
	"185.199.108.0/22",
	"140.82.112.0/20",
	"143.55.64.0/20",
	"2a0a:a440::/29",
	"2606:50c0::/32",
}

// GitHubIPValidator validates if an IP is from GitHub.
type GitHubIPValidator struct {
	networks []*net.IPNet
	enabled  bool
}

// NewGitHubIPValidator creates a validator. A disabled validator accepts
// every address.
func NewGitHubIPValidator(enabled bool) (*GitHubIPValidator, error) {
	validator := &GitHubIPValidator{
		enabled: enabled,
	}

	if !enabled {
		return validator, nil
	}

	for _, cidr := range githubWebhookCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		validator.networks = append(validator.networks, network)
	}

	return validator, nil
}

// IsValid checks if an IP is from GitHub.
func (v *GitHubIPValidator) IsValid(ipStr string) bool {
	if v == nil || !v.enabled {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, network := range v.networks {
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// Middleware rejects requests whose source address is outside GitHub's hook
// ranges with 403.
func (v *GitHubIPValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !v.IsValid(ip) {
			logger.Warn("webhook rejected: source IP not in GitHub ranges", logger.Fields{
				"ip":          ip,
				"delivery_id": r.Header.Get("X-GitHub-Delivery"), //nolint:canonicalheader // GitHub webhook header
			})
			apierror.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
