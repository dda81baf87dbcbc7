package proxy

import (
	"contentfilter/pkg/urlcheck"
)

const (
	// SentinelHost never matches a real request. It stands in for an empty
	// rule set because the admin API rejects an empty match list.
	SentinelHost = "test.blocked"
	// setupHost is the placeholder match of a freshly installed route.
	setupHost = "blocked"
)

// RuleOptions selects which URL parts the rules constrain.
type RuleOptions struct {
	MatchHost   bool
	MatchScheme bool
}

// Rule is the proxy-side form of one block-list entry.
type Rule struct {
	Path   string
	Host   string
	Scheme string
}

// BuildRules derives one rule per valid entry. Entries that are not absolute
// URLs are skipped. Scheme is recorded when scheme matching is on but no writer
// applies it yet.
func BuildRules(urls []string, opts RuleOptions) []Rule {
	rules := make([]Rule, 0, len(urls))
	for _, raw := range urls {
		if !urlcheck.Valid(raw) {
			continue
		}
		parts := urlcheck.Decompose(raw)
		rule := Rule{Path: parts.Path}
		if rule.Path == "" {
			rule.Path = "/"
		}
		if opts.MatchHost {
			rule.Host = parts.Hostname
		}
		if opts.MatchScheme {
			rule.Scheme = parts.Scheme
		}
		rules = append(rules, rule)
	}
	return rules
}

// MatchSets renders rules as Caddy matcher sets. An empty rule set becomes the
// sentinel {"host": "test.blocked"}.
func MatchSets(rules []Rule) []map[string]any {
	if len(rules) == 0 {
		return []map[string]any{{"host": SentinelHost}}
	}
	sets := make([]map[string]any, 0, len(rules))
	for _, rule := range rules {
		set := map[string]any{"path": []string{rule.Path}}
		if rule.Host != "" {
			set["host"] = []string{rule.Host}
		}
		sets = append(sets, set)
	}
	return sets
}
