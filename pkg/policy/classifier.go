package policy

import (
	"net/http"
	"net/url"
)

// Classifier resolves requests to policies. It is safe for concurrent use;
// its policy list never changes after construction.
type Classifier struct {
	policies []Policy
	fallback Policy
}

// NewClassifier creates a classifier over an ordered policy list. If
// fallback has no strategy, Default() is used.
func NewClassifier(policies []Policy, fallback Policy) *Classifier {
	if fallback.Strategy == "" {
		fallback = Default()
	}
	return &Classifier{
		policies: append([]Policy(nil), policies...),
		fallback: fallback,
	}
}

// FromSpecs compiles specs in order and builds a classifier using Default().
func FromSpecs(specs []Spec) (*Classifier, error) {
	policies := make([]Policy, 0, len(specs))
	for _, s := range specs {
		p, err := New(s)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return NewClassifier(policies, Default()), nil
}

// Classify returns the first policy matching the request, or the default.
func (c *Classifier) Classify(req *http.Request) Policy {
	if req == nil || req.URL == nil {
		return c.fallback
	}
	return c.ClassifyURL(req.Method, req.URL)
}

// ClassifyURL is Classify for a method and parsed URL.
func (c *Classifier) ClassifyURL(method string, u *url.URL) Policy {
	if method == "" {
		method = http.MethodGet
	}
	raw := u.String()
	for _, p := range c.policies {
		if p.Matches(method, raw, u.Path) {
			return p
		}
	}
	return c.fallback
}

// Policies returns the ordered policy list.
func (c *Classifier) Policies() []Policy {
	return append([]Policy(nil), c.policies...)
}

// Default returns the fallback policy.
func (c *Classifier) Default() Policy {
	return c.fallback
}

// Partitions returns the distinct logical partition names, including the
// default policy's, in first-seen order.
func (c *Classifier) Partitions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(c.Policies(), c.fallback) {
		if !seen[p.Partition] {
			seen[p.Partition] = true
			out = append(out, p.Partition)
		}
	}
	return out
}
