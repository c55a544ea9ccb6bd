// Package policy maps outbound requests to cache policies. Policies are
// checked in declaration order and the first match wins; a request that
// matches nothing is served by the default policy.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Strategy is a serving strategy executed by the engine.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
	CacheOnly            Strategy = "cache-only"
)

// SharedPartition is the logical partition of the default policy.
const SharedPartition = "shared"

var (
	// ErrUnknownStrategy is returned when a strategy name cannot be parsed.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidPolicy is returned for policies that fail validation.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// ParseStrategy accepts the canonical kebab-case names as well as the
// CamelCase spellings (CacheFirst, NetworkFirst, ...).
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch norm {
	case "cachefirst":
		return CacheFirst, nil
	case "networkfirst":
		return NetworkFirst, nil
	case "stalewhilerevalidate":
		return StaleWhileRevalidate, nil
	case "networkonly":
		return NetworkOnly, nil
	case "cacheonly":
		return CacheOnly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// ReadsCache reports whether the strategy may serve stored entries.
func (s Strategy) ReadsCache() bool {
	return s != NetworkOnly
}

// WritesCache reports whether the strategy stores successful fetches.
func (s Strategy) WritesCache() bool {
	switch s {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate:
		return true
	default:
		return false
	}
}

// Policy is an immutable cache policy. Build it with New.
type Policy struct {
	Name       string
	Pattern    string
	Methods    []string
	Strategy   Strategy
	Partition  string
	TTL        time.Duration
	MaxEntries int

	matchers []matcher
}

// Spec is the declarative form of a policy, as found in configuration.
type Spec struct {
	Name       string   `yaml:"name"`
	Match      string   `yaml:"match"`
	Methods    []string `yaml:"methods"`
	Strategy   string   `yaml:"strategy"`
	Partition  string   `yaml:"partition"`
	TTLSeconds int64    `yaml:"ttlSeconds"`
	MaxEntries int      `yaml:"maxEntries"`
}

// New compiles a policy from its spec.
func New(spec Spec) (Policy, error) {
	strategy, err := ParseStrategy(spec.Strategy)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", spec.Name, err)
	}
	if spec.TTLSeconds < 0 {
		return Policy{}, fmt.Errorf("%w: policy %q: ttlSeconds must be >= 0", ErrInvalidPolicy, spec.Name)
	}
	if spec.MaxEntries < 0 {
		return Policy{}, fmt.Errorf("%w: policy %q: maxEntries must be >= 0", ErrInvalidPolicy, spec.Name)
	}
	if err := ValidatePartitionName(spec.Partition); err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", spec.Name, err)
	}
	matchers, err := parseMatch(spec.Match)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: policy %q: match: %v", ErrInvalidPolicy, spec.Name, err)
	}

	methods := make([]string, 0, len(spec.Methods))
	for _, m := range spec.Methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			methods = append(methods, m)
		}
	}

	return Policy{
		Name:       spec.Name,
		Pattern:    spec.Match,
		Methods:    methods,
		Strategy:   strategy,
		Partition:  spec.Partition,
		TTL:        time.Duration(spec.TTLSeconds) * time.Second,
		MaxEntries: spec.MaxEntries,
		matchers:   matchers,
	}, nil
}

// MustNew is New for statically known policies; it panics on error.
func MustNew(spec Spec) Policy {
	p, err := New(spec)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the policy used when no declared policy matches.
func Default() Policy {
	return Policy{
		Name:      "default",
		Strategy:  NetworkFirst,
		Partition: SharedPartition,
	}
}

// ValidatePartitionName rejects names that cannot be stored as a partition.
func ValidatePartitionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: partition is required", ErrInvalidPolicy)
	}
	if strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("%w: partition %q must not contain '/' or spaces", ErrInvalidPolicy, name)
	}
	return nil
}

// Matches reports whether the policy applies to the request.
func (p Policy) Matches(method string, u string, path string) bool {
	if len(p.Methods) > 0 {
		ok := false
		for _, m := range p.Methods {
			if m == method {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, m := range p.matchers {
		if m.match(u, path) {
			return true
		}
	}
	return false
}

type matcher interface {
	match(rawURL, path string) bool
}

type pathPrefixMatcher struct{ prefix string }

func (m pathPrefixMatcher) match(_, path string) bool { return strings.HasPrefix(path, m.prefix) }

type regexpMatcher struct{ re *regexp.Regexp }

func (m regexpMatcher) match(rawURL, _ string) bool { return m.re.MatchString(rawURL) }

// parseMatch accepts either PathPrefix(/a)|PathPrefix(/b) or a regular
// expression evaluated against the full request URL.
func parseMatch(expr string) ([]matcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty match")
	}

	if !strings.HasPrefix(expr, "PathPrefix(") {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		return []matcher{regexpMatcher{re: re}}, nil
	}

	parts := strings.Split(expr, "|")
	out := make([]matcher, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "PathPrefix(") || !strings.HasSuffix(p, ")") {
			return nil, fmt.Errorf("mixed match syntax, got %q", p)
		}
		inside := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(p, "PathPrefix("), ")"))
		if inside == "" || !strings.HasPrefix(inside, "/") {
			return nil, fmt.Errorf("invalid prefix %q", inside)
		}
		out = append(out, pathPrefixMatcher{prefix: inside})
	}
	if len(out) == 0 {
		return nil, errors.New("no valid matchers")
	}
	return out, nil
}

// IsMutating reports whether the method changes server state.
func IsMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "":
		return false
	default:
		return true
	}
}
