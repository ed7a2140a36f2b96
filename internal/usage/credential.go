package usage

import "errors"

// ErrNoCredential means no operator credential was configured.
var ErrNoCredential = errors.New("no default provider credential configured")

// Resolver picks the credential for the next provider call.
type Resolver struct {
	defaultKey string
	gate       *Gate
}

func NewResolver(defaultKey string, gate *Gate) (*Resolver, error) {
	if defaultKey == "" {
		return nil, ErrNoCredential
	}
	if gate == nil {
		return nil, errors.New("resolver requires a gate")
	}
	return &Resolver{defaultKey: defaultKey, gate: gate}, nil
}

// Active returns the caller override if one is set, otherwise the default.
func (r *Resolver) Active() string {
	if k := r.gate.Override(); k != "" {
		return k
	}
	return r.defaultKey
}

// Resolve is like Active but uses the override captured in g.
func (r *Resolver) Resolve(g Grant) string {
	if g.Override != "" {
		return g.Override
	}
	return r.defaultKey
}
