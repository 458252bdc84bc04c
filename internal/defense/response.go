// Package defense implements the active-response side of the pipeline: a
// TTL blocklist (response manager) and the endpoint interrogator.
package defense

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSafelisted rejects block attempts against infrastructure
	// addresses that must never be cut off.
	ErrSafelisted = errors.New("address is safelisted")
	ErrBadAddress = errors.New("invalid address")
	ErrNotBlocked = errors.New("address is not blocked")
)

// safeAddrs are never blocked regardless of alert severity: public DNS
// resolvers and common gateway addresses.
var safeAddrs = map[string]struct{}{
	"8.8.8.8":     {},
	"8.8.4.4":     {},
	"1.1.1.1":     {},
	"1.0.0.1":     {},
	"192.168.1.1": {},
	"192.168.0.1": {},
	"10.0.0.1":    {},
}

const (
	// DefaultBlockTTL applies when a block request carries no TTL.
	DefaultBlockTTL = time.Hour

	maxBlockedEntries = 500
	auditLimit        = 1000
	sweepInterval     = 30 * time.Second
)

// BlockedEntry is one active blocklist row.
type BlockedEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	AlertID   string    `json:"alert_id,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuditRecord is one entry in the response audit trail.
type AuditRecord struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"` // blocked, unblocked, expired
	IP     string    `json:"ip"`
	Reason string    `json:"reason,omitempty"`
}

// ResponseEvent is published on the responses topic for every state change.
type ResponseEvent struct {
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	AlertID   string    `json:"alert_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Stats summarizes response-manager activity.
type Stats struct {
	ActiveBlocks  int    `json:"active_blocks"`
	TotalBlocked  uint64 `json:"total_blocked"`
	TotalExpired  uint64 `json:"total_expired"`
	TotalRefused  uint64 `json:"total_refused"`
	TotalUnblocks uint64 `json:"total_unblocks"`
}

// Manager is the TTL blocklist. All mutation goes through the mutex; a
// background sweeper expires entries every 30 seconds, and reads filter
// expired rows so a block never outlives its TTL even between sweeps.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*BlockedEntry
	audit   []AuditRecord
	stats   Stats
	publish func(ResponseEvent)
	logger  *zap.SugaredLogger
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// NewManager creates a manager and starts its sweeper. publish may be nil.
func NewManager(publish func(ResponseEvent), logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if publish == nil {
		publish = func(ResponseEvent) {}
	}
	m := &Manager{
		entries: make(map[string]*BlockedEntry),
		publish: publish,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Block adds ip to the blocklist for ttl (DefaultBlockTTL when ttl <= 0).
// Re-blocking an already blocked address refreshes its expiry.
func (m *Manager) Block(ip, reason, alertID string, ttl time.Duration) (*BlockedEntry, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, ErrBadAddress
	}
	if m.isSafe(addr) {
		m.mu.Lock()
		m.stats.TotalRefused++
		m.mu.Unlock()
		return nil, ErrSafelisted
	}
	if ttl <= 0 {
		ttl = DefaultBlockTTL
	}
	now := m.now()
	entry := &BlockedEntry{
		IP:        addr.String(),
		Reason:    reason,
		AlertID:   alertID,
		BlockedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	if len(m.entries) >= maxBlockedEntries {
		if _, exists := m.entries[entry.IP]; !exists {
			m.stats.TotalRefused++
			m.mu.Unlock()
			return nil, errors.New("blocklist full")
		}
	}
	m.entries[entry.IP] = entry
	m.stats.TotalBlocked++
	m.auditLocked(AuditRecord{At: now, Action: "blocked", IP: entry.IP, Reason: reason})
	m.mu.Unlock()

	m.logger.Warnw("address blocked", "ip", entry.IP, "reason", reason, "ttl", ttl)
	m.publish(ResponseEvent{Action: "blocked", IP: entry.IP, Reason: reason, AlertID: alertID, ExpiresAt: entry.ExpiresAt})
	return entry, nil
}

// Unblock removes ip immediately.
func (m *Manager) Unblock(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ErrBadAddress
	}
	key := addr.String()
	now := m.now()

	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok || !entry.ExpiresAt.After(now) {
		delete(m.entries, key)
		m.mu.Unlock()
		return ErrNotBlocked
	}
	delete(m.entries, key)
	m.stats.TotalUnblocks++
	m.auditLocked(AuditRecord{At: now, Action: "unblocked", IP: key})
	m.mu.Unlock()

	m.logger.Infow("address unblocked", "ip", key)
	m.publish(ResponseEvent{Action: "unblocked", IP: key})
	return nil
}

// IsBlocked reports whether ip is currently blocked, honoring expiry even
// before the sweeper runs.
func (m *Manager) IsBlocked(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[ip]
	return ok && entry.ExpiresAt.After(m.now())
}

// List returns the active (unexpired) blocklist.
func (m *Manager) List() []BlockedEntry {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BlockedEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.ExpiresAt.After(now) {
			out = append(out, *e)
		}
	}
	return out
}

// Audit returns a copy of the audit trail, newest last.
func (m *Manager) Audit() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.audit))
	copy(out, m.audit)
	return out
}

// Snapshot returns current stats.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	now := m.now()
	for _, e := range m.entries {
		if e.ExpiresAt.After(now) {
			s.ActiveBlocks++
		}
	}
	return s
}

// Close stops the sweeper.
func (m *Manager) Close() {
	m.stopped.Do(func() { close(m.stop) })
}

func (m *Manager) isSafe(addr netip.Addr) bool {
	if _, ok := safeAddrs[addr.String()]; ok {
		return true
	}
	return addr.IsLoopback() || addr.IsMulticast() || addr.String() == "255.255.255.255"
}

func (m *Manager) auditLocked(rec AuditRecord) {
	m.audit = append(m.audit, rec)
	if len(m.audit) > auditLimit {
		m.audit = m.audit[len(m.audit)-auditLimit:]
	}
}

func (m *Manager) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.expire()
		}
	}
}

func (m *Manager) expire() {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for ip, e := range m.entries {
		if !e.ExpiresAt.After(now) {
			delete(m.entries, ip)
			m.stats.TotalExpired++
			m.auditLocked(AuditRecord{At: now, Action: "expired", IP: ip})
			expired = append(expired, ip)
		}
	}
	m.mu.Unlock()
	for _, ip := range expired {
		m.publish(ResponseEvent{Action: "expired", IP: ip})
	}
}
