package source

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

const (
	snapLen       = 65535
	flushInterval = 2 * time.Second
	readTimeout   = 500 * time.Millisecond
)

type flowKey struct {
	srcIP, dstIP     string
	srcPort, dstPort int
	proto            flow.Protocol
}

type flowWindow struct {
	startedAt time.Time
	sent      int64
	received  int64
	ja3       string
	metadata  map[string]string
}

// Sniffer captures live packets and aggregates them into 2-second flow
// windows published on the traffic topic.
type Sniffer struct {
	iface  string
	broker *events.Broker
	logger *zap.SugaredLogger

	handle *pcap.Handle
	flows  map[flowKey]*flowWindow
}

// NewSniffer opens the capture handle on iface.
func NewSniffer(iface string, broker *events.Broker, logger *zap.SugaredLogger) (*Sniffer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	handle, err := pcap.OpenLive(iface, snapLen, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open capture on %s: %w", iface, err)
	}
	return &Sniffer{
		iface:  iface,
		broker: broker,
		logger: logger,
		handle: handle,
		flows:  make(map[flowKey]*flowWindow),
	}, nil
}

// Run reads packets until ctx is done, flushing completed windows every
// two seconds.
func (s *Sniffer) Run(ctx context.Context) error {
	defer s.handle.Close()
	s.logger.Infow("sniffer started", "interface", s.iface)

	src := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	src.NoCopy = true
	packets := src.Packets()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(time.Now(), true)
			s.logger.Info("sniffer stopped")
			return ctx.Err()
		case <-ticker.C:
			s.flush(time.Now(), false)
		case pkt, ok := <-packets:
			if !ok {
				s.flush(time.Now(), true)
				return fmt.Errorf("capture closed on %s", s.iface)
			}
			s.handlePacket(pkt)
		}
	}
}

func (s *Sniffer) handlePacket(pkt gopacket.Packet) {
	netLayer := pkt.NetworkLayer()
	if netLayer == nil {
		return
	}
	var srcIP, dstIP string
	switch ip := netLayer.(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return
	}
	// Loopback and discovery chatter never reaches the pipeline.
	if isLoopback(srcIP) || isLoopback(dstIP) ||
		flow.IsMulticastOrBroadcast(srcIP) || flow.IsMulticastOrBroadcast(dstIP) {
		return
	}

	var (
		srcPort, dstPort int
		proto            flow.Protocol
		payload          []byte
	)
	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		srcPort, dstPort = int(tcp.SrcPort), int(tcp.DstPort)
		proto = flow.ProtoTCP
		payload = tcp.Payload
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		srcPort, dstPort = int(udp.SrcPort), int(udp.DstPort)
		proto = flow.ProtoUDP
		payload = udp.Payload
	case pkt.Layer(layers.LayerTypeICMPv4) != nil:
		proto = flow.ProtoICMP
	default:
		proto = flow.ProtoOther
	}

	size := int64(len(pkt.Data()))
	key, initiated := s.matchWindow(flowKey{srcIP, dstIP, srcPort, dstPort, proto})
	w := s.flows[key]
	if w == nil {
		w = &flowWindow{startedAt: time.Now(), metadata: make(map[string]string)}
		s.flows[key] = w
	}
	if initiated {
		w.sent += size
	} else {
		w.received += size
	}

	s.inspect(pkt, key, w, payload, initiated)
}

// isLoopback covers all of 127/8 and ::1, not just the canonical address.
func isLoopback(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	return err == nil && addr.IsLoopback()
}

// matchWindow returns the canonical key for this packet's flow and whether
// the packet travels in the initiator's direction.
func (s *Sniffer) matchWindow(k flowKey) (flowKey, bool) {
	if _, ok := s.flows[k]; ok {
		return k, true
	}
	rev := flowKey{k.dstIP, k.srcIP, k.dstPort, k.srcPort, k.proto}
	if _, ok := s.flows[rev]; ok {
		return rev, false
	}
	return k, true
}

func (s *Sniffer) inspect(pkt gopacket.Packet, key flowKey, w *flowWindow, payload []byte, initiated bool) {
	if dnsLayer := pkt.Layer(layers.LayerTypeDNS); dnsLayer != nil {
		dns := dnsLayer.(*layers.DNS)
		if len(dns.Questions) > 0 {
			w.metadata[flow.MetaDNSQuery] = string(dns.Questions[0].Name)
		}
		return
	}
	if !initiated || len(payload) == 0 {
		return
	}
	if key.dstPort == 443 || payload[0] == 0x16 {
		if hello := ParseClientHello(payload); hello != nil {
			if hello.SNI != "" {
				w.metadata[flow.MetaSNI] = hello.SNI
			}
			w.ja3 = hello.JA3
			return
		}
	}
	if key.dstPort == 80 || key.dstPort == 8080 {
		if host, ua := parseHTTPRequest(payload); host != "" {
			w.metadata[flow.MetaHost] = host
			if ua != "" {
				w.metadata[flow.MetaUserAgent] = ua
			}
		}
	}
}

// flush publishes windows older than the flush interval, or all of them on
// shutdown.
func (s *Sniffer) flush(now time.Time, all bool) {
	for key, w := range s.flows {
		if !all && now.Sub(w.startedAt) < flushInterval {
			continue
		}
		delete(s.flows, key)

		proto := key.proto
		if key.dstPort == 53 || key.srcPort == 53 {
			proto = flow.ProtoDNS
		} else if key.dstPort == 443 {
			proto = flow.ProtoHTTPS
		} else if key.dstPort == 80 || key.dstPort == 8080 {
			proto = flow.ProtoHTTP
		}

		evt := &flow.Event{
			Timestamp:       w.startedAt,
			SourceIP:        key.srcIP,
			DestinationIP:   key.dstIP,
			SourcePort:      key.srcPort,
			DestinationPort: key.dstPort,
			Protocol:        proto,
			BytesSent:       w.sent,
			BytesReceived:   w.received,
			JA3:             w.ja3,
		}
		if len(w.metadata) > 0 {
			evt.Metadata = w.metadata
		}
		s.broker.Publish(events.TopicTraffic, evt)
	}
}

// parseHTTPRequest pulls Host and User-Agent out of a plaintext request.
func parseHTTPRequest(payload []byte) (host, userAgent string) {
	text := string(payload)
	if !strings.Contains(text, "HTTP/") {
		return "", ""
	}
	for _, line := range strings.Split(text, "\r\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "host:") {
			host = strings.TrimSpace(line[5:])
		}
		if strings.HasPrefix(lower, "user-agent:") {
			userAgent = strings.TrimSpace(line[11:])
		}
	}
	return host, userAgent
}
