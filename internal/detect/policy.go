package detect

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
)

// Action is what a policy rule does when it matches.
type Action string

const (
	ActionBlock   Action = "block"
	ActionMonitor Action = "monitor"
	ActionAllow   Action = "allow"
)

var (
	ErrRuleNotFound = errors.New("policy rule not found")
	ErrRuleConflict = errors.New("policy rule with same name and service exists")
	ErrRuleInvalid  = errors.New("invalid policy rule")
)

// PolicyRule is an operator-defined detection rule. Rules are immutable
// once stored; mutation goes through the store and produces a new snapshot.
type PolicyRule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Action      Action             `json:"action"`
	Service     string             `json:"service"`
	Department  string             `json:"department"`
	Severity    contracts.Severity `json:"severity"`
	Enabled     bool               `json:"enabled"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (r *PolicyRule) validate() error {
	if r.Name == "" {
		return errors.Join(ErrRuleInvalid, errors.New("name required"))
	}
	switch r.Action {
	case ActionBlock, ActionMonitor, ActionAllow:
	default:
		return errors.Join(ErrRuleInvalid, errors.New("unknown action"))
	}
	switch r.Severity {
	case contracts.SeverityLow, contracts.SeverityMedium, contracts.SeverityHigh:
	default:
		return errors.Join(ErrRuleInvalid, errors.New("unknown severity"))
	}
	return nil
}

// PolicyStore holds the rule table copy-on-write: readers grab the current
// immutable slice, writers build a replacement under the mutex.
type PolicyStore struct {
	mu    sync.Mutex
	rules []*PolicyRule
}

// NewPolicyStore creates a store seeded with the default rule set.
func NewPolicyStore() *PolicyStore {
	s := &PolicyStore{}
	s.rules = defaultRules()
	return s
}

func defaultRules() []*PolicyRule {
	now := time.Now().UTC()
	return []*PolicyRule{
		{ID: "rule-default-1", Name: "Block ChatGPT for Finance", Action: ActionBlock, Service: "chatgpt", Department: "Finance", Severity: contracts.SeverityHigh, Enabled: true, CreatedAt: now},
		{ID: "rule-default-2", Name: "Allow Copilot for Engineering", Action: ActionAllow, Service: "copilot", Department: "Engineering", Severity: contracts.SeverityLow, Enabled: true, CreatedAt: now},
		{ID: "rule-default-3", Name: "Monitor Midjourney", Action: ActionMonitor, Service: "midjourney", Department: "All", Severity: contracts.SeverityMedium, Enabled: true, CreatedAt: now},
		{ID: "rule-default-4", Name: "Block Claude for Legal", Action: ActionBlock, Service: "claude", Department: "Legal", Severity: contracts.SeverityHigh, Enabled: false, CreatedAt: now},
	}
}

// Snapshot returns the current immutable rule slice. Callers must not
// modify the returned rules.
func (s *PolicyStore) Snapshot() []*PolicyRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

// List returns a copy of the rules for API responses.
func (s *PolicyStore) List() []PolicyRule {
	snap := s.Snapshot()
	out := make([]PolicyRule, len(snap))
	for i, r := range snap {
		out[i] = *r
	}
	return out
}

// Create validates and adds a rule, assigning an id when absent. A rule
// with the same name and service is a conflict.
func (s *PolicyStore) Create(rule PolicyRule) (*PolicyRule, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if strings.EqualFold(r.Name, rule.Name) && strings.EqualFold(r.Service, rule.Service) {
			return nil, ErrRuleConflict
		}
	}
	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	next := make([]*PolicyRule, len(s.rules), len(s.rules)+1)
	copy(next, s.rules)
	next = append(next, &rule)
	s.rules = next
	return &rule, nil
}

// Toggle flips a rule's enabled flag and returns the new state.
// Toggling twice restores the original state.
func (s *PolicyStore) Toggle(id string) (*PolicyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*PolicyRule, len(s.rules))
	var toggled *PolicyRule
	for i, r := range s.rules {
		if r.ID == id {
			cp := *r
			cp.Enabled = !cp.Enabled
			next[i] = &cp
			toggled = &cp
		} else {
			next[i] = r
		}
	}
	if toggled == nil {
		return nil, ErrRuleNotFound
	}
	s.rules = next
	return toggled, nil
}

// Delete removes a rule by id.
func (s *PolicyStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*PolicyRule, 0, len(s.rules))
	found := false
	for _, r := range s.rules {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if !found {
		return ErrRuleNotFound
	}
	s.rules = next
	return nil
}

// Get returns the rule with the given id.
func (s *PolicyStore) Get(id string) (*PolicyRule, error) {
	for _, r := range s.Snapshot() {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRuleNotFound
}
