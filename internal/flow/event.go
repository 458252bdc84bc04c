// Package flow defines the telemetry event schema shared by every traffic
// source and consumed by the analyzer pipeline.
package flow

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/netip"
	"time"
)

// Protocol identifies the transport or application protocol of a flow.
type Protocol string

const (
	ProtoTCP   Protocol = "TCP"
	ProtoUDP   Protocol = "UDP"
	ProtoICMP  Protocol = "ICMP"
	ProtoHTTP  Protocol = "HTTP"
	ProtoHTTPS Protocol = "HTTPS"
	ProtoDNS   Protocol = "DNS"
	ProtoOther Protocol = "OTHER"
)

// Metadata keys populated by sources. All values are optional.
const (
	MetaHost       = "host"      // HTTP Host header
	MetaSNI        = "sni"       // TLS server name
	MetaDNSQuery   = "dns_query" // DNS question name
	MetaUserAgent  = "user_agent"
	MetaPersona    = "persona"    // synthetic traffic only
	MetaDepartment = "department" // org unit of the source, when known
)

var (
	ErrInvalidAddress = errors.New("invalid ip address")
	ErrInvalidPort    = errors.New("port out of range")
)

// Event is one observed flow window. Sources aggregate packets into events;
// the analyzer treats events as immutable after publication.
type Event struct {
	Timestamp       time.Time         `json:"timestamp"`
	SourceIP        string            `json:"source_ip"`
	DestinationIP   string            `json:"destination_ip"`
	SourcePort      int               `json:"source_port"`
	DestinationPort int               `json:"destination_port"`
	Protocol        Protocol          `json:"protocol"`
	BytesSent       int64             `json:"bytes_sent"`
	BytesReceived   int64             `json:"bytes_received"`
	JA3             string            `json:"ja3,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate rejects events that cannot be analyzed. Malformed events are
// dropped at intake with a counter, never propagated.
func (e *Event) Validate() error {
	if _, err := netip.ParseAddr(e.SourceIP); err != nil {
		return fmt.Errorf("%w: source %q", ErrInvalidAddress, e.SourceIP)
	}
	if _, err := netip.ParseAddr(e.DestinationIP); err != nil {
		return fmt.Errorf("%w: destination %q", ErrInvalidAddress, e.DestinationIP)
	}
	if e.SourcePort < 0 || e.SourcePort > 65535 {
		return fmt.Errorf("%w: source port %d", ErrInvalidPort, e.SourcePort)
	}
	if e.DestinationPort < 0 || e.DestinationPort > 65535 {
		return fmt.Errorf("%w: destination port %d", ErrInvalidPort, e.DestinationPort)
	}
	if e.BytesSent < 0 || e.BytesReceived < 0 {
		return errors.New("negative byte count")
	}
	return nil
}

// Meta returns the metadata value for key, or "" when absent.
func (e *Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Host returns the best available destination name: HTTP host, then TLS SNI,
// then the DNS question name. Empty when the flow carried no name at all.
func (e *Event) Host() string {
	if h := e.Meta(MetaHost); h != "" {
		return h
	}
	if s := e.Meta(MetaSNI); s != "" {
		return s
	}
	return e.Meta(MetaDNSQuery)
}

// PartitionKey hashes the 5-tuple so all events of one flow land on the same
// analyzer worker.
func (e *Event) PartitionKey() uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", e.SourceIP, e.DestinationIP, e.SourcePort, e.DestinationPort, e.Protocol)
	return h.Sum32()
}

// IsInternal reports whether ip is a private, loopback, or link-local
// address. Sources may additionally mark site-local prefixes via config.
func IsInternal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// IsMulticastOrBroadcast reports whether ip is multicast, the limited
// broadcast address, or the SSDP discovery address.
func IsMulticastOrBroadcast(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	if addr.IsMulticast() {
		return true
	}
	return ip == "255.255.255.255"
}
