// Package runtime owns the process lifecycle: it wires the broker, graph
// store, detection pipeline, defense layer, traffic source, and HTTP
// surface together, and tears them down in order on shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadow-hunter/shadowhunter-go/internal/analyzer"
	"github.com/shadow-hunter/shadowhunter-go/internal/config"
	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/defense"
	"github.com/shadow-hunter/shadowhunter-go/internal/detect"
	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
	"github.com/shadow-hunter/shadowhunter-go/internal/httpapi"
	"github.com/shadow-hunter/shadowhunter-go/internal/ml"
	"github.com/shadow-hunter/shadowhunter-go/internal/observability"
	"github.com/shadow-hunter/shadowhunter-go/internal/source"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

var (
	// ErrCaptureInit means the live capture handle could not be opened.
	ErrCaptureInit = errors.New("capture initialization failed")

	// ErrBind means the HTTP port could not be bound.
	ErrBind = errors.New("port bind failed")
)

const shutdownTimeout = 5 * time.Second

// trafficSource is either the live sniffer or the synthetic generator.
type trafficSource interface {
	Run(ctx context.Context) error
}

// Runtime wires all components and drives their lifecycle.
type Runtime struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	mode   string

	broker   *events.Broker
	store    graph.Store
	policies *detect.PolicyStore
	engine   *ml.Engine
	response *defense.Manager
	probe    *defense.Interrogator
	pipeline *analyzer.Analyzer
	metrics  *observability.Metrics
	hub      *httpapi.Hub
	src      trafficSource

	httpSrv *http.Server

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New builds the full component graph from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	metrics := observability.NewMetrics(logger)
	broker := events.NewBroker(events.DefaultQueueSize, logger)
	metrics.WatchBrokerDrops(broker.Dropped)

	var store graph.Store
	if cfg.InMemory {
		store = graph.NewMemoryStore()
	} else {
		bolt, err := graph.NewBoltStore(cfg.DatabasePath(), logger)
		if err != nil {
			broker.Close()
			return nil, fmt.Errorf("failed to open graph store: %w", err)
		}
		store = bolt
	}
	if cfg.Reset {
		if err := store.Reset(context.Background()); err != nil {
			_ = store.Close()
			broker.Close()
			return nil, fmt.Errorf("failed to reset graph store: %w", err)
		}
		logger.Info("graph store reset")
	}

	policies := detect.NewPolicyStore()
	response := defense.NewManager(func(ev defense.ResponseEvent) {
		broker.Publish(events.TopicResponses, ev)
	}, logger)
	probe := defense.NewInterrogator(cfg.Defense.ProbeEnabled, response.IsBlocked, logger)
	engine := ml.NewEngine(cfg.ML.Enabled, nil, logger)

	var prefixes []netip.Prefix
	for _, p := range cfg.LocalPrefixes {
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			response.Close()
			_ = store.Close()
			broker.Close()
			return nil, fmt.Errorf("invalid local prefix %q: %w", p, err)
		}
		prefixes = append(prefixes, prefix)
	}

	pipeline := analyzer.New(analyzer.Options{
		Workers:       cfg.Analyzer.Workers,
		RingCapacity:  cfg.Analyzer.RingCapacity,
		CriticalRisk:  float64(cfg.Analyzer.CriticalRisk),
		BlockTTL:      time.Duration(cfg.Defense.BlockTTLSeconds) * time.Second,
		ProbeEnabled:  cfg.Defense.ProbeEnabled,
		LocalPrefixes: prefixes,
	}, store, broker, policies, engine, probe, response, metrics, logger)

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		broker:   broker,
		store:    store,
		policies: policies,
		engine:   engine,
		response: response,
		probe:    probe,
		pipeline: pipeline,
		metrics:  metrics,
	}

	if cfg.Live {
		sniffer, err := source.NewSniffer(cfg.Interface, broker, logger)
		if err != nil {
			rt.closeComponents()
			return nil, fmt.Errorf("%w: %v", ErrCaptureInit, err)
		}
		rt.src = sniffer
		rt.mode = "live"
	} else {
		rt.src = source.NewSimulator(broker, cfg.Seed, logger)
		rt.mode = "demo"
	}

	rt.hub = httpapi.NewHub(broker, metrics, logger)
	rt.httpSrv = &http.Server{
		Handler:           httpapi.NewServer(rt, rt.hub, metrics, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return rt, nil
}

// Start binds the HTTP port and launches the pipeline, the traffic source,
// and the API server. It returns once everything is running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("runtime already started")
	}

	addr := fmt.Sprintf(":%d", r.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := r.pipeline.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		err := r.src.Run(groupCtx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		if err := r.httpSrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	r.cancel = cancel
	r.group = group
	r.running = true
	r.startedAt = time.Now()
	r.logger.Infow("runtime started", "mode", r.mode, "addr", addr, "version", Version)
	return nil
}

// Wait blocks until a background component fails or Stop is called.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	group := r.group
	r.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop tears components down in dependency order: intake first, then the
// pipeline drain, then the outward surfaces, then storage.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	r.logger.Info("runtime stopping")
	cancel()
	r.pipeline.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := r.httpSrv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warnw("http shutdown incomplete", "error", err)
	}

	r.closeComponents()
	r.logger.Info("runtime stopped")
}

func (r *Runtime) closeComponents() {
	if r.hub != nil {
		r.hub.Close()
	}
	r.response.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Warnw("store close failed", "error", err)
	}
	r.broker.Close()
}

// Mode reports "live" or "demo".
func (r *Runtime) Mode() string { return r.mode }

// Uptime reports time since Start.
func (r *Runtime) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	return time.Since(r.startedAt)
}

// Version reports the build version.
func (r *Runtime) Version() string { return Version }

// Nodes lists all graph nodes.
func (r *Runtime) Nodes(ctx context.Context) ([]*graph.Node, error) {
	return r.store.ListNodes(ctx, graph.NodeFilter{})
}

// Edges lists all graph edges.
func (r *Runtime) Edges(ctx context.Context) ([]*graph.Edge, error) {
	return r.store.ListEdges(ctx)
}

// Alerts returns the alert ring snapshot, newest first.
func (r *Runtime) Alerts() []contracts.Alert {
	return r.pipeline.Ring().Snapshot()
}

// Policies exposes the rule store.
func (r *Runtime) Policies() *detect.PolicyStore { return r.policies }

// Blocklist exposes the response manager.
func (r *Runtime) Blocklist() *defense.Manager { return r.response }
