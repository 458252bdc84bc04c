package defense

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

// ErrProbeSkipped wraps every guard rejection so callers can tell a skipped
// probe from a failed one.
var ErrProbeSkipped = errors.New("probe skipped")

const (
	probeTimeout   = 5 * time.Second
	probeCooldown  = 5 * time.Minute
	probesPerMin   = 10
	maxInFlight    = 2
	probeBodyLimit = 64 * 1024
)

// ProbeResult is the outcome of interrogating one endpoint.
type ProbeResult struct {
	Target     string    `json:"target"`
	Confirmed  bool      `json:"confirmed"`
	Indicators []string  `json:"indicators,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Interrogator actively probes suspected AI endpoints: an OPTIONS / for
// liveness, then GET /v1/models looking for an OpenAI-compatible surface.
// Guards keep it polite: external unicast targets only, never blocked
// addresses, a per-target cooldown, a rolling per-minute budget, and at
// most two probes in flight.
type Interrogator struct {
	client    *http.Client
	enabled   bool
	isBlocked func(ip string) bool

	mu       sync.Mutex
	lastSent map[string]time.Time
	window   []time.Time
	sem      chan struct{}

	probesSent    uint64
	probesSkipped uint64

	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewInterrogator builds the interrogator. isBlocked may be nil.
func NewInterrogator(enabled bool, isBlocked func(string) bool, logger *zap.SugaredLogger) *Interrogator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if isBlocked == nil {
		isBlocked = func(string) bool { return false }
	}
	return &Interrogator{
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				// Suspect endpoints rarely present valid certs for a
				// bare IP; the probe only inspects the response shape.
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: true,
			},
		},
		enabled:   enabled,
		isBlocked: isBlocked,
		lastSent:  make(map[string]time.Time),
		sem:       make(chan struct{}, maxInFlight),
		logger:    logger,
		now:       time.Now,
	}
}

// Stats returns probe counters.
func (i *Interrogator) Stats() (sent, skipped uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.probesSent, i.probesSkipped
}

// Probe interrogates target (an IP). Guard rejections return
// ErrProbeSkipped-wrapped errors.
func (i *Interrogator) Probe(ctx context.Context, target string) (*ProbeResult, error) {
	select {
	case i.sem <- struct{}{}:
	default:
		i.countSkip()
		return nil, fmt.Errorf("%w: too many probes in flight", ErrProbeSkipped)
	}
	defer func() { <-i.sem }()

	if err := i.admit(target); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result := &ProbeResult{Target: target, ProbedAt: i.now()}

	// Liveness check first; a dead port means no second request.
	if err := i.options(ctx, target, result); err != nil {
		return result, fmt.Errorf("probe %s: %w", target, err)
	}
	if err := i.models(ctx, target, result); err != nil {
		return result, fmt.Errorf("probe %s: %w", target, err)
	}
	if result.Confirmed {
		i.logger.Infow("endpoint confirmed as AI service", "target", target, "indicators", result.Indicators)
	}
	return result, nil
}

func (i *Interrogator) admit(target string) error {
	if !i.enabled {
		return fmt.Errorf("%w: probing disabled", ErrProbeSkipped)
	}
	if flow.IsInternal(target) {
		i.countSkip()
		return fmt.Errorf("%w: internal target", ErrProbeSkipped)
	}
	if flow.IsMulticastOrBroadcast(target) {
		i.countSkip()
		return fmt.Errorf("%w: multicast target", ErrProbeSkipped)
	}
	if i.isBlocked(target) {
		i.countSkip()
		return fmt.Errorf("%w: target is blocked", ErrProbeSkipped)
	}
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	if last, ok := i.lastSent[target]; ok && now.Sub(last) < probeCooldown {
		i.probesSkipped++
		return fmt.Errorf("%w: cooldown active for %s", ErrProbeSkipped, target)
	}
	cutoff := now.Add(-time.Minute)
	kept := i.window[:0]
	for _, t := range i.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	i.window = kept
	if len(i.window) >= probesPerMin {
		i.probesSkipped++
		return fmt.Errorf("%w: probe budget exhausted", ErrProbeSkipped)
	}
	i.window = append(i.window, now)
	i.lastSent[target] = now
	i.probesSent++
	return nil
}

func (i *Interrogator) countSkip() {
	i.mu.Lock()
	i.probesSkipped++
	i.mu.Unlock()
}

func (i *Interrogator) options(ctx context.Context, target string, result *ProbeResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, "https://"+target+"/", nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, probeBodyLimit))
	result.StatusCode = resp.StatusCode
	i.vendorHeaders(resp.Header, result)
	return nil
}

func (i *Interrogator) models(ctx context.Context, target string, result *ProbeResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+target+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode
	i.vendorHeaders(resp.Header, result)

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
	if err != nil {
		return err
	}
	if hasModelList(body) {
		result.Confirmed = true
		result.Indicators = append(result.Indicators, "models_endpoint")
	}
	return nil
}

func (i *Interrogator) vendorHeaders(h http.Header, result *ProbeResult) {
	for name := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "openai-") {
			result.Confirmed = true
			result.Indicators = append(result.Indicators, "header:"+lower)
		}
		if lower == "anthropic-request-id" {
			result.Confirmed = true
			result.Indicators = append(result.Indicators, "header:"+lower)
		}
	}
}

// hasModelList reports whether body looks like an OpenAI-style model
// listing: a JSON object with a "data" array of objects carrying "id".
func hasModelList(body []byte) bool {
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	for _, m := range payload.Data {
		if m.ID != "" {
			return true
		}
	}
	return false
}
