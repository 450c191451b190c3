package transport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pacegate/pacegate/pkg/pacegate"
)

// GroupResolver maps a concrete API call to its rate-limit group.
// Implementations are provided by the client wrapper that knows the
// provider's endpoint layout.
type GroupResolver interface {
	Resolve(method, path string) (pacegate.Group, error)
}

// ResolverFunc adapts a function to the GroupResolver interface.
type ResolverFunc func(method, path string) (pacegate.Group, error)

// Resolve implements GroupResolver.
func (f ResolverFunc) Resolve(method, path string) (pacegate.Group, error) {
	return f(method, path)
}

// Rule is one entry of a PrefixResolver table.
type Rule struct {
	// Method restricts the rule to one HTTP method; empty matches all.
	Method string
	// Prefix is matched against the request path; the longest matching
	// prefix wins.
	Prefix string
	Group  pacegate.Group
}

// PrefixResolver resolves groups from a longest-prefix table over
// method and path. The table is fixed at construction.
type PrefixResolver struct {
	rules        []Rule
	defaultGroup pacegate.Group
}

// NewPrefixResolver builds a resolver from rules. defaultGroup is used
// when no rule matches; pass "" to make unmatched paths an error.
func NewPrefixResolver(rules []Rule, defaultGroup pacegate.Group) (*PrefixResolver, error) {
	for _, r := range rules {
		if !r.Group.Valid() {
			return nil, fmt.Errorf("%w: %q", pacegate.ErrUnknownGroup, r.Group)
		}
		if r.Prefix == "" {
			return nil, fmt.Errorf("%w: rule with empty prefix", pacegate.ErrUnknownGroup)
		}
	}
	if defaultGroup != "" && !defaultGroup.Valid() {
		return nil, fmt.Errorf("%w: %q", pacegate.ErrUnknownGroup, defaultGroup)
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	// Longest prefix first, so the first match wins.
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &PrefixResolver{rules: sorted, defaultGroup: defaultGroup}, nil
}

// Resolve implements GroupResolver.
func (r *PrefixResolver) Resolve(method, path string) (pacegate.Group, error) {
	for _, rule := range r.rules {
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.Group, nil
		}
	}
	if r.defaultGroup != "" {
		return r.defaultGroup, nil
	}
	return "", fmt.Errorf("%w: no rule for %s %s", pacegate.ErrUnknownGroup, method, path)
}
