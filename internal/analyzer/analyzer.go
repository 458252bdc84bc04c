// Package analyzer is the pipeline orchestrator: it consumes flow events
// from the broker, maintains the communication graph, runs rule and ML
// detection, emits alerts, and gates active defense.
package analyzer

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/defense"
	"github.com/shadow-hunter/shadowhunter-go/internal/detect"
	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
	"github.com/shadow-hunter/shadowhunter-go/internal/intel"
	"github.com/shadow-hunter/shadowhunter-go/internal/ml"
	"github.com/shadow-hunter/shadowhunter-go/internal/observability"
)

// NodeState tracks a source through the escalation ladder.
type NodeState string

const (
	StateNew         NodeState = "NEW"
	StateObserved    NodeState = "OBSERVED"
	StateFlagged     NodeState = "FLAGGED"
	StateQuarantined NodeState = "QUARANTINED"
)

const (
	defaultWorkers      = 4
	defaultRingCapacity = 1000
	defaultCriticalRisk = 95.0
	workerQueueSize     = 1024
	drainTimeout        = 5 * time.Second
	mlConfidenceFloor   = 0.7
	sessionEscalation   = 0.7
)

// retryBackoff between graph write attempts. After the last attempt the
// event is analyzed anyway and the failure is counted.
var retryBackoff = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, time.Second}

// severityWeight feeds the node risk update min(100, 0.9*r + w).
func severityWeight(s contracts.Severity) float64 {
	switch s {
	case contracts.SeverityHigh:
		return 30
	case contracts.SeverityMedium:
		return 15
	default:
		return 5
	}
}

func severityForRisk(risk float64) contracts.Severity {
	switch {
	case risk < 30:
		return contracts.SeverityLow
	case risk < 70:
		return contracts.SeverityMedium
	default:
		return contracts.SeverityHigh
	}
}

// Options tunes the orchestrator.
type Options struct {
	Workers       int
	RingCapacity  int
	CriticalRisk  float64
	BlockTTL      time.Duration
	ProbeEnabled  bool
	LocalPrefixes []netip.Prefix
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.RingCapacity <= 0 {
		o.RingCapacity = defaultRingCapacity
	}
	if o.CriticalRisk <= 0 {
		o.CriticalRisk = defaultCriticalRisk
	}
	if o.BlockTTL <= 0 {
		o.BlockTTL = defense.DefaultBlockTTL
	}
	return o
}

// Analyzer runs N workers partitioned by the flow 5-tuple so per-flow
// ordering is preserved while unrelated flows proceed in parallel.
type Analyzer struct {
	opts     Options
	logger   *zap.SugaredLogger
	store    graph.Store
	broker   *events.Broker
	registry *detect.Registry
	policies *detect.PolicyStore
	engine   *ml.Engine
	probe    *defense.Interrogator
	response *defense.Manager
	metrics  *observability.Metrics

	cidr *intel.CIDRMatcher
	ja3  *intel.JA3Matcher
	ring *AlertRing

	deptMu sync.RWMutex
	depts  map[string]string

	stateMu sync.Mutex
	states  map[string]NodeState

	chans       []chan *flow.Event
	wg          sync.WaitGroup
	trafficSub  *events.Subscription
	responseSub *events.Subscription
	started     bool
	probeWG     sync.WaitGroup
}

// New wires the orchestrator. store and broker are required; probe,
// response, and metrics may be nil.
func New(opts Options, store graph.Store, broker *events.Broker, policies *detect.PolicyStore,
	engine *ml.Engine, probe *defense.Interrogator, response *defense.Manager,
	metrics *observability.Metrics, logger *zap.SugaredLogger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts = opts.withDefaults()
	a := &Analyzer{
		opts:     opts,
		logger:   logger,
		store:    store,
		broker:   broker,
		registry: detect.NewRegistry(logger),
		policies: policies,
		engine:   engine,
		probe:    probe,
		response: response,
		metrics:  metrics,
		cidr:     intel.NewCIDRMatcher(),
		ja3:      intel.NewJA3Matcher(),
		ring:     NewAlertRing(opts.RingCapacity),
		depts:    make(map[string]string),
		states:   make(map[string]NodeState),
	}
	a.registry.OnPanic = metrics.DetectorPanic

	// Response events feed the state machine regardless of whether the
	// worker pool is running, so the subscription opens immediately.
	a.subscribeResponses()
	return a
}

// subscribeResponses routes block lifecycle events into the state machine.
func (a *Analyzer) subscribeResponses() {
	a.responseSub = a.broker.Subscribe(events.TopicResponses, func(msg any) {
		re, ok := msg.(defense.ResponseEvent)
		if !ok {
			return
		}
		switch re.Action {
		case "blocked":
			a.setState(re.IP, StateQuarantined)
		case "unblocked", "expired":
			a.setStateIf(re.IP, StateQuarantined, StateFlagged)
		}
	})
}

// Ring exposes the alert buffer for API reads.
func (a *Analyzer) Ring() *AlertRing { return a.ring }

// Policies exposes the policy store.
func (a *Analyzer) Policies() *detect.PolicyStore { return a.policies }

// State returns the escalation state of a source, StateNew when unseen.
func (a *Analyzer) State(ip string) NodeState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if s, ok := a.states[ip]; ok {
		return s
	}
	return StateNew
}

// Start subscribes to the traffic and response topics and launches the
// worker pool.
func (a *Analyzer) Start(ctx context.Context) error {
	if a.started {
		return errors.New("analyzer already started")
	}
	a.started = true
	if a.responseSub == nil {
		a.subscribeResponses()
	}

	a.chans = make([]chan *flow.Event, a.opts.Workers)
	for i := range a.chans {
		ch := make(chan *flow.Event, workerQueueSize)
		a.chans[i] = ch
		a.wg.Add(1)
		go a.worker(ch)
	}

	a.trafficSub = a.broker.Subscribe(events.TopicTraffic, func(msg any) {
		evt, ok := msg.(*flow.Event)
		if !ok {
			a.metrics.EventDropped("bad_payload")
			return
		}
		idx := int(evt.PartitionKey() % uint32(a.opts.Workers))
		select {
		case a.chans[idx] <- evt:
		default:
			a.metrics.EventDropped("worker_backpressure")
		}
	})

	a.logger.Infow("analyzer started", "workers", a.opts.Workers, "ring_capacity", a.opts.RingCapacity)
	return nil
}

// Stop detaches from the broker and drains in-flight events, waiting at
// most 5 seconds.
func (a *Analyzer) Stop() {
	if a.responseSub != nil {
		a.responseSub.Close()
		a.responseSub = nil
	}
	if !a.started {
		return
	}
	if a.trafficSub != nil {
		a.trafficSub.Close()
	}
	for _, ch := range a.chans {
		close(ch)
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.probeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("analyzer drained")
	case <-time.After(drainTimeout):
		a.logger.Warn("analyzer drain timed out, abandoning in-flight events")
	}
	a.started = false
}

func (a *Analyzer) worker(ch chan *flow.Event) {
	defer a.wg.Done()
	for evt := range ch {
		a.process(evt)
	}
}

func (a *Analyzer) isInternal(ip string) bool {
	if flow.IsInternal(ip) {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range a.opts.LocalPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *Analyzer) department(ip string) string {
	a.deptMu.RLock()
	defer a.deptMu.RUnlock()
	return a.depts[ip]
}

func (a *Analyzer) setState(ip string, s NodeState) {
	a.stateMu.Lock()
	a.states[ip] = s
	a.stateMu.Unlock()
}

// setStateIf transitions ip from want to next, leaving other states alone.
func (a *Analyzer) setStateIf(ip string, want, next NodeState) {
	a.stateMu.Lock()
	if a.states[ip] == want {
		a.states[ip] = next
	}
	a.stateMu.Unlock()
}

// markObserved promotes an unseen source to OBSERVED without touching
// higher states.
func (a *Analyzer) markObserved(ip string) {
	a.stateMu.Lock()
	if _, ok := a.states[ip]; !ok {
		a.states[ip] = StateObserved
	}
	a.stateMu.Unlock()
}

func (a *Analyzer) process(evt *flow.Event) {
	if err := evt.Validate(); err != nil {
		a.metrics.EventDropped("invalid")
		a.logger.Debugw("dropping malformed event", "error", err)
		return
	}
	if detect.Whitelisted(evt) {
		a.metrics.EventProcessed("whitelisted")
		return
	}

	host := evt.Host()
	_, aiCategory := intel.DomainCategory(host)
	cidrEntry := a.cidr.Lookup(evt.DestinationIP)
	aiDest := aiCategory != "" || cidrEntry != nil
	dstInternal := a.isInternal(evt.DestinationIP)

	a.engine.Sessions().Record(evt, aiDest)

	if d := evt.Meta(flow.MetaDepartment); d != "" {
		a.deptMu.Lock()
		a.depts[evt.SourceIP] = d
		a.deptMu.Unlock()
	}

	a.upsertGraph(evt, host, aiDest, dstInternal)
	a.markObserved(evt.SourceIP)

	env := &detect.Env{
		Domains:    intel.DomainCategory,
		CIDR:       a.cidr,
		JA3:        a.ja3,
		Policies:   a.policies.Snapshot(),
		Department: a.department,
	}

	// Rule and ML detection run concurrently per event.
	var (
		hits    []detect.Hit
		verdict ml.Verdict
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		hits = a.registry.Run(evt, env)
	}()
	go func() {
		defer wg.Done()
		verdict = a.engine.Analyze(evt, aiDest)
	}()
	wg.Wait()

	mlFired := verdict.Classification != ml.ClassNormal && verdict.Confidence >= mlConfidenceFloor
	if len(hits) == 0 && !mlFired {
		a.metrics.EventProcessed("clean")
		a.publishGraphChange(evt)
		return
	}

	alert := a.buildAlert(evt, host, hits, verdict, mlFired)
	a.ring.Append(alert)
	a.metrics.SetRingSize(a.ring.Len())
	a.metrics.AlertEmitted(string(alert.Severity))
	a.metrics.EventProcessed("alerted")
	a.engine.Sessions().RecordAlert(evt.SourceIP, alert.Severity)
	a.broker.Publish(events.TopicAlerts, alert)
	a.logger.Warnw("alert emitted",
		"id", alert.ID, "severity", alert.Severity, "rule", alert.MatchedRule,
		"src", alert.SourceIP, "dst", alert.DestinationIP, "risk", alert.RiskScore)

	a.raiseNodeRisk(evt.SourceIP, alert.Severity)
	a.setState(evt.SourceIP, StateFlagged)
	a.dispatchDefense(evt, hits, alert, dstInternal)
	a.publishGraphChange(evt)
}

func (a *Analyzer) buildAlert(evt *flow.Event, host string, hits []detect.Hit, verdict ml.Verdict, mlFired bool) contracts.Alert {
	var (
		severity     contracts.Severity
		descriptions []string
		top          *detect.Hit
		intelCtx     *contracts.IntelContext
		category     string
	)
	for i := range hits {
		h := &hits[i]
		severity = contracts.MaxSeverity(severity, h.Severity)
		descriptions = append(descriptions, h.Description)
		if top == nil || h.Severity.Rank() > top.Severity.Rank() {
			top = h
		}
		if h.Intel != nil && intelCtx == nil {
			intelCtx = h.Intel
		}
	}
	if mlFired {
		severity = contracts.MaxSeverity(severity, severityForRisk(verdict.RiskScore))
		if len(hits) == 0 {
			descriptions = append(descriptions, "ML flagged "+verdict.Classification+" traffic")
		}
	}

	var matchedRule string
	if top != nil {
		matchedRule = top.MatchedRule
		category = top.Category
	}

	sess := a.engine.Sessions().Snapshot(evt.SourceIP)
	if sess.Score > sessionEscalation {
		severity = contracts.SeverityHigh
	}

	return contracts.Alert{
		ID:               ulid.Make().String(),
		Timestamp:        evt.Timestamp,
		Severity:         severity,
		SourceIP:         evt.SourceIP,
		SourcePort:       evt.SourcePort,
		DestinationIP:    evt.DestinationIP,
		DestinationLabel: host,
		DestinationPort:  evt.DestinationPort,
		Protocol:         string(evt.Protocol),
		BytesSent:        evt.BytesSent,
		BytesReceived:    evt.BytesReceived,
		Description:      strings.Join(descriptions, "; "),
		MatchedRule:      matchedRule,
		Category:         category,
		MLClassification: verdict.Classification,
		MLConfidence:     verdict.Confidence,
		AnomalyScore:     verdict.AnomalyScore,
		RiskScore:        verdict.RiskScore,
		KillChainStage:   StageFor(matchedRule, verdict.Classification),
		SessionFlags:     sess.Flags,
		ExfilVelocity:    sess.ExfilVelocity,
		Intel:            intelCtx,
	}
}

func (a *Analyzer) dispatchDefense(evt *flow.Event, hits []detect.Hit, alert contracts.Alert, dstInternal bool) {
	blockRequested := false
	for _, h := range hits {
		if h.Block {
			blockRequested = true
			break
		}
	}
	critical := alert.Severity == contracts.SeverityHigh && alert.RiskScore >= a.opts.CriticalRisk

	if (blockRequested || critical) && a.response != nil {
		target := evt.DestinationIP
		if dstInternal {
			target = evt.SourceIP
		}
		if _, err := a.response.Block(target, alert.Description, alert.ID, a.opts.BlockTTL); err != nil {
			if !errors.Is(err, defense.ErrSafelisted) {
				a.logger.Warnw("block failed", "target", target, "error", err)
			}
		}
		a.metrics.SetActiveBlocks(a.response.Snapshot().ActiveBlocks)
	}

	if alert.Severity == contracts.SeverityHigh && !dstInternal && a.probe != nil {
		target := evt.DestinationIP
		alertID := alert.ID
		a.probeWG.Add(1)
		go func() {
			defer a.probeWG.Done()
			a.runProbe(target, alertID)
		}()
	}
}

func (a *Analyzer) runProbe(target, alertID string) {
	res, err := a.probe.Probe(context.Background(), target)
	if err != nil {
		if errors.Is(err, defense.ErrProbeSkipped) {
			a.metrics.Probe("skipped")
		} else {
			a.metrics.Probe("failed")
			a.logger.Debugw("probe failed", "target", target, "error", err)
		}
		return
	}
	if !res.Confirmed {
		a.metrics.Probe("unconfirmed")
		a.ring.Amend(alertID, " | active probe [unconfirmed]")
		return
	}
	a.metrics.Probe("confirmed")
	a.ring.Amend(alertID, " | active probe confirmed AI service ("+strings.Join(res.Indicators, ",")+")")
	if _, err := a.store.UpsertNode(context.Background(), target, graph.NodeUpsert{Type: graph.NodeShadow}); err != nil {
		a.logger.Warnw("shadow relabel failed", "target", target, "error", err)
	}
}

func (a *Analyzer) raiseNodeRisk(ip string, severity contracts.Severity) {
	ctx := context.Background()
	var current float64
	if node, err := a.store.GetNode(ctx, ip); err == nil {
		current = node.RiskScore
	}
	next := 0.9*current + severityWeight(severity)
	if next > 100 {
		next = 100
	}
	a.upsertNodeRetry(ip, graph.NodeUpsert{SetRisk: true, RiskScore: next, AddAlerts: 1})
}

func (a *Analyzer) upsertGraph(evt *flow.Event, host string, aiDest, dstInternal bool) {
	srcType := graph.NodeExternal
	if a.isInternal(evt.SourceIP) {
		srcType = graph.NodeInternal
	}
	dstType := graph.NodeExternal
	if dstInternal {
		dstType = graph.NodeInternal
	}
	if aiDest {
		dstType = graph.NodeShadow
	}

	a.upsertNodeRetry(evt.SourceIP, graph.NodeUpsert{
		Type:       srcType,
		Department: a.department(evt.SourceIP),
		SeenAt:     evt.Timestamp,
	})
	a.upsertNodeRetry(evt.DestinationIP, graph.NodeUpsert{
		Type:   dstType,
		Label:  host,
		SeenAt: evt.Timestamp,
	})
	a.upsertEdgeRetry(evt)
}

func (a *Analyzer) upsertNodeRetry(ip string, up graph.NodeUpsert) {
	ctx := context.Background()
	var err error
	for attempt := 0; ; attempt++ {
		if _, err = a.store.UpsertNode(ctx, ip, up); err == nil {
			return
		}
		if attempt >= len(retryBackoff) {
			break
		}
		time.Sleep(retryBackoff[attempt])
	}
	a.metrics.StoreFailure()
	a.logger.Errorw("node upsert failed after retries", "ip", ip, "error", err)
}

func (a *Analyzer) upsertEdgeRetry(evt *flow.Event) {
	ctx := context.Background()
	up := graph.EdgeUpsert{
		Protocol: string(evt.Protocol),
		DstPort:  evt.DestinationPort,
		AddBytes: evt.BytesSent + evt.BytesReceived,
		SeenAt:   evt.Timestamp,
	}
	var err error
	for attempt := 0; ; attempt++ {
		if _, err = a.store.UpsertEdge(ctx, evt.SourceIP, evt.DestinationIP, up); err == nil {
			return
		}
		if attempt >= len(retryBackoff) {
			break
		}
		time.Sleep(retryBackoff[attempt])
	}
	a.metrics.StoreFailure()
	a.logger.Errorw("edge upsert failed after retries", "src", evt.SourceIP, "dst", evt.DestinationIP, "error", err)
}

func (a *Analyzer) publishGraphChange(evt *flow.Event) {
	a.broker.Publish(events.TopicGraphChanges, contracts.GraphChange{
		Source: evt.SourceIP,
		Target: evt.DestinationIP,
		At:     evt.Timestamp,
	})
}
