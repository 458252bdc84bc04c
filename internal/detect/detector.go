// Package detect implements the deterministic rule layer: a registry of
// detectors evaluated against every non-whitelisted flow.
package detect

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/intel"
)

// Hit is one detector match for a flow.
type Hit struct {
	Severity    contracts.Severity
	Category    string
	MatchedRule string
	Description string
	// Block requests an immediate response action (policy action=block).
	Block bool
	// Intel carries provider attribution when the destination matched a
	// known range.
	Intel *contracts.IntelContext
}

// Env is the read-only environment detectors evaluate against. Policies is
// an immutable snapshot taken per event.
type Env struct {
	Domains  func(host string) (base, category string)
	CIDR     *intel.CIDRMatcher
	JA3      *intel.JA3Matcher
	Policies []*PolicyRule
	// Department resolves the source IP's department, "" when unknown.
	Department func(ip string) string
}

// Detector is one detection rule. Implementations must be stateless and
// safe for concurrent use across analyzer workers.
type Detector interface {
	Name() string
	Detect(evt *flow.Event, env *Env) []Hit
}

// Registry evaluates all registered detectors in order. A panicking
// detector is contained and counted; the remaining detectors still run.
type Registry struct {
	detectors []Detector
	panics    atomic.Uint64
	logger    *zap.SugaredLogger

	// OnPanic, when set, is invoked once per contained panic. Set before
	// the first Run call.
	OnPanic func()
}

// NewRegistry builds a registry with the standard rule set.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		detectors: []Detector{
			aiDomainDetector{},
			cidrDetector{},
			ja3Detector{},
			abnormalPortDetector{},
			dnsTunnelingDetector{},
			exfilDetector{},
			policyDetector{},
		},
		logger: logger,
	}
}

// Run returns all hits for evt. Whitelisted flows short-circuit to nil
// before any detector sees them.
func (r *Registry) Run(evt *flow.Event, env *Env) []Hit {
	if Whitelisted(evt) {
		return nil
	}
	var hits []Hit
	for _, d := range r.detectors {
		hits = append(hits, r.runOne(d, evt, env)...)
	}
	return hits
}

func (r *Registry) runOne(d Detector, evt *flow.Event, env *Env) (hits []Hit) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			if r.OnPanic != nil {
				r.OnPanic()
			}
			r.logger.Errorw("detector panic contained", "detector", d.Name(), "panic", rec)
			hits = nil
		}
	}()
	return d.Detect(evt, env)
}

// Panics returns the number of contained detector panics.
func (r *Registry) Panics() uint64 { return r.panics.Load() }
