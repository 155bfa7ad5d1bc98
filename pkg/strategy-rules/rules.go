package strategyrules

import (
	"fmt"
	"net/http"
	"strings"
)

// Strategy names as used in configuration.
const (
	NetworkFirst         = "network-first"
	StaleWhileRevalidate = "stale-while-revalidate"
	NetworkOnly          = "network-only"
)

type Rules []Rule

// Rule selects a caching strategy for matching GET requests.
// All set conditions must match.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Query    map[string]string `yaml:"query"`
	Strategy string            `yaml:"strategy"`
}

// Validate checks that all rules name a known strategy.
func (r Rules) Validate() error {
	for i, rule := range r {
		switch rule.Strategy {
		case NetworkFirst, StaleWhileRevalidate, NetworkOnly:
		default:
			return fmt.Errorf("rule %d: unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

// Find returns the first rule matching the request, or nil.
// Only GET requests can match.
func (r Rules) Find(req *http.Request) *Rule {
	if req.Method != http.MethodGet {
		return nil
	}
rulesLoop:
	for i := range r {
		rule := &r[i]
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return rule
	}
	return nil
}
