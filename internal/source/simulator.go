// Package source produces flow events: a live gopacket sniffer and a
// seeded synthetic generator for demos and tests.
package source

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

// persona models one synthetic employee workstation.
type persona struct {
	ip           string
	name         string
	department   string
	aiTemptation float64 // probability a work action reaches for an AI tool
	idleChance   float64
	aiServices   []aiService
	userAgent    string
	ja3          string
}

type aiService struct {
	host string
	ip   string
}

// normalSites is everyday non-AI browsing.
var normalSites = []aiService{
	{"github.com", "140.82.112.3"},
	{"stackoverflow.com", "151.101.1.69"},
	{"docs.google.com", "142.250.80.46"},
	{"slack.com", "3.122.118.14"},
	{"atlassian.net", "18.246.31.128"},
	{"news.ycombinator.com", "209.216.230.240"},
}

// internalServices is server-to-server background noise.
var internalServices = []struct {
	ip   string
	port int
}{
	{"192.168.1.100", 5432},
	{"192.168.1.101", 445},
	{"192.168.1.102", 8080},
}

var personas = []persona{
	{
		ip: "192.168.1.10", name: "dev-workstation", department: "Engineering",
		aiTemptation: 0.7, idleChance: 0.1,
		aiServices: []aiService{
			{"api.openai.com", "13.107.42.14"},
			{"api.githubcopilot.com", "140.82.113.22"},
			{"claude.ai", "34.102.136.180"},
		},
		userAgent: "Mozilla/5.0 (Macintosh) Chrome/126.0",
		ja3:       "773906b0efdefa24a7f2b8eb6985bf37",
	},
	{
		ip: "192.168.1.11", name: "designer-laptop", department: "Design",
		aiTemptation: 0.6, idleChance: 0.2,
		aiServices: []aiService{
			{"www.midjourney.com", "104.18.8.126"},
			{"leonardo.ai", "104.18.12.40"},
		},
		userAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0",
		ja3:       "773906b0efdefa24a7f2b8eb6985bf37",
	},
	{
		ip: "192.168.1.12", name: "finance-manager", department: "Finance",
		aiTemptation: 0.3, idleChance: 0.3,
		aiServices: []aiService{
			{"chatgpt.com", "13.107.42.7"},
		},
		userAgent: "Mozilla/5.0 (Windows NT 10.0) Edg/126.0",
		ja3:       "b20b44b18b853f29d25660b022eb7350",
	},
	{
		ip: "192.168.1.13", name: "data-scientist", department: "Engineering",
		aiTemptation: 0.8, idleChance: 0.05,
		aiServices: []aiService{
			{"huggingface.co", "54.164.18.22"},
			{"api.openai.com", "13.107.43.9"},
			{"api.together.ai", "34.149.100.5"},
		},
		userAgent: "python-requests/2.32.0",
		ja3:       "e7d705a3286e19ea42f587b344ee6865",
	},
	{
		ip: "192.168.1.14", name: "marketing-intern", department: "Marketing",
		aiTemptation: 0.5, idleChance: 0.25,
		aiServices: []aiService{
			{"www.jasper.ai", "104.18.30.44"},
			{"copy.ai", "104.18.22.90"},
			{"chatgpt.com", "13.107.42.7"},
		},
		userAgent: "Mozilla/5.0 (Macintosh) Safari/605.1",
		ja3:       "a441a33aaee795f498d6b764cc78989a",
	},
}

// Simulator publishes synthetic flow events onto the traffic topic at 10-30
// events per second. The destination sequence is deterministic for a fixed
// seed.
type Simulator struct {
	broker  *events.Broker
	rng     *rand.Rand
	logger  *zap.SugaredLogger
	emitted uint64
}

// NewSimulator creates a generator seeded with seed.
func NewSimulator(broker *events.Broker, seed int64, logger *zap.SugaredLogger) *Simulator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Simulator{
		broker: broker,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// Run generates traffic until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Infow("simulator started", "personas", len(personas))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("simulator stopped", "events", s.emitted)
			return ctx.Err()
		case <-ticker.C:
			// 1-3 events per tick keeps the stream inside 10-30/s.
			n := 1 + s.rng.Intn(3)
			for i := 0; i < n; i++ {
				evt := s.nextEvent(time.Now().UTC())
				s.broker.Publish(events.TopicTraffic, evt)
				s.emitted++
			}
		}
	}
}

// nextEvent draws one synthetic flow. Exposed to tests via the package.
func (s *Simulator) nextEvent(now time.Time) *flow.Event {
	p := personas[s.rng.Intn(len(personas))]
	roll := s.rng.Float64()

	switch {
	case roll < p.idleChance*0.5:
		return s.internalNoise(now)
	case roll < p.idleChance*0.5+p.aiTemptation*0.4:
		return s.aiFlow(&p, now)
	case roll > 0.97:
		return s.dnsFlow(&p, now)
	default:
		return s.normalFlow(&p, now)
	}
}

func (s *Simulator) baseEvent(p *persona, dst aiService, now time.Time) *flow.Event {
	return &flow.Event{
		Timestamp:       now,
		SourceIP:        p.ip,
		DestinationIP:   dst.ip,
		SourcePort:      40000 + s.rng.Intn(20000),
		DestinationPort: 443,
		Protocol:        flow.ProtoHTTPS,
		JA3:             p.ja3,
		Metadata: map[string]string{
			flow.MetaSNI:        dst.host,
			flow.MetaUserAgent:  p.userAgent,
			flow.MetaPersona:    p.name,
			flow.MetaDepartment: p.department,
		},
	}
}

func (s *Simulator) aiFlow(p *persona, now time.Time) *flow.Event {
	dst := p.aiServices[s.rng.Intn(len(p.aiServices))]
	evt := s.baseEvent(p, dst, now)
	evt.BytesSent = int64(2000 + s.rng.Intn(60000))
	evt.BytesReceived = int64(5000 + s.rng.Intn(200000))
	// Occasionally a prompt drags a whole file along.
	if s.rng.Float64() < 0.05 {
		evt.BytesSent += int64(600_000 + s.rng.Intn(2_000_000))
	}
	return evt
}

func (s *Simulator) normalFlow(p *persona, now time.Time) *flow.Event {
	dst := normalSites[s.rng.Intn(len(normalSites))]
	evt := s.baseEvent(p, dst, now)
	evt.BytesSent = int64(500 + s.rng.Intn(8000))
	evt.BytesReceived = int64(2000 + s.rng.Intn(80000))
	return evt
}

func (s *Simulator) dnsFlow(p *persona, now time.Time) *flow.Event {
	dst := normalSites[s.rng.Intn(len(normalSites))]
	return &flow.Event{
		Timestamp:       now,
		SourceIP:        p.ip,
		DestinationIP:   "192.168.1.1",
		SourcePort:      50000 + s.rng.Intn(10000),
		DestinationPort: 53,
		Protocol:        flow.ProtoDNS,
		BytesSent:       int64(40 + s.rng.Intn(60)),
		BytesReceived:   int64(80 + s.rng.Intn(200)),
		Metadata: map[string]string{
			flow.MetaDNSQuery:   dst.host,
			flow.MetaPersona:    p.name,
			flow.MetaDepartment: p.department,
		},
	}
}

func (s *Simulator) internalNoise(now time.Time) *flow.Event {
	svc := internalServices[s.rng.Intn(len(internalServices))]
	src := internalServices[s.rng.Intn(len(internalServices))]
	return &flow.Event{
		Timestamp:       now,
		SourceIP:        src.ip,
		DestinationIP:   svc.ip,
		SourcePort:      30000 + s.rng.Intn(10000),
		DestinationPort: svc.port,
		Protocol:        flow.ProtoTCP,
		BytesSent:       int64(200 + s.rng.Intn(4000)),
		BytesReceived:   int64(200 + s.rng.Intn(4000)),
		Metadata: map[string]string{
			flow.MetaPersona: fmt.Sprintf("server-%s", src.ip),
		},
	}
}
