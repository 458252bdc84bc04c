package source

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
)

func buildTCPPacket(t *testing.T, src, dst string) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 50000, DstPort: 443, SYN: true}

	srcAddr, dstAddr := net.ParseIP(src), net.ParseIP(dst)
	if srcAddr.To4() != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcAddr, DstIP: dstAddr}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP, SrcIP: srcAddr, DstIP: dstAddr}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestSnifferDropsLoopbackAndMulticast(t *testing.T) {
	s := &Sniffer{logger: zap.NewNop().Sugar(), flows: make(map[flowKey]*flowWindow)}

	for _, tc := range [][2]string{
		{"127.0.0.1", "104.18.3.161"},
		{"127.0.0.5", "104.18.3.161"},
		{"::1", "2606:4700::6810:84a1"},
		{"192.168.1.10", "224.0.0.251"},
		{"192.168.1.10", "255.255.255.255"},
	} {
		s.handlePacket(buildTCPPacket(t, tc[0], tc[1]))
		assert.Empty(t, s.flows, "%s>%s never opens a window", tc[0], tc[1])
	}

	s.handlePacket(buildTCPPacket(t, "192.168.1.10", "104.18.3.161"))
	assert.Len(t, s.flows, 1, "routable traffic opens a window")
}

func TestSimulatorDeterministicUnderSeed(t *testing.T) {
	b := events.NewBroker(16, zap.NewNop().Sugar())
	defer b.Close()
	now := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)

	draw := func(seed int64) []string {
		s := NewSimulator(b, seed, nil)
		var out []string
		for i := 0; i < 200; i++ {
			evt := s.nextEvent(now)
			out = append(out, evt.SourceIP+">"+evt.DestinationIP)
		}
		return out
	}

	assert.Equal(t, draw(42), draw(42), "same seed, same sequence")
	assert.NotEqual(t, draw(42), draw(43), "different seeds diverge")
}

func TestSimulatorEventsAreValid(t *testing.T) {
	b := events.NewBroker(16, zap.NewNop().Sugar())
	defer b.Close()
	s := NewSimulator(b, 7, nil)
	now := time.Now().UTC()

	var aiSeen, normalSeen, dnsSeen bool
	for i := 0; i < 500; i++ {
		evt := s.nextEvent(now)
		require.NoError(t, evt.Validate())
		switch {
		case evt.Protocol == flow.ProtoDNS:
			dnsSeen = true
		case evt.Meta(flow.MetaSNI) != "" && !flow.IsInternal(evt.DestinationIP):
			normalSeen = true
			if evt.Meta(flow.MetaDepartment) != "" {
				aiSeen = true
			}
		}
	}
	assert.True(t, aiSeen)
	assert.True(t, normalSeen)
	assert.True(t, dnsSeen)
}

func TestSimulatorRunPublishes(t *testing.T) {
	b := events.NewBroker(256, zap.NewNop().Sugar())
	defer b.Close()

	received := make(chan *flow.Event, 64)
	b.Subscribe(events.TopicTraffic, func(msg any) {
		select {
		case received <- msg.(*flow.Event):
		default:
		}
	})

	s := NewSimulator(b, 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, received, "simulator published events while running")
}

// buildClientHello assembles a minimal TLS ClientHello record for parser
// tests. extraCipher injects a leading GREASE cipher when nonzero.
func buildClientHello(sni string, extraCipher uint16) []byte {
	var body []byte
	u16 := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		return b
	}

	body = append(body, u16(0x0303)...) // client version
	body = append(body, make([]byte, 32)...)
	body = append(body, 0) // session id

	var ciphers []byte
	if extraCipher != 0 {
		ciphers = append(ciphers, u16(extraCipher)...)
	}
	for _, c := range []uint16{0x1301, 0x1302, 0xc02f} {
		ciphers = append(ciphers, u16(c)...)
	}
	body = append(body, u16(uint16(len(ciphers)))...)
	body = append(body, ciphers...)
	body = append(body, 1, 0) // compression: null

	var exts []byte
	// server_name
	name := []byte(sni)
	sniExt := append(u16(uint16(len(name)+3)), 0)
	sniExt = append(sniExt, u16(uint16(len(name)))...)
	sniExt = append(sniExt, name...)
	exts = append(exts, u16(0)...)
	exts = append(exts, u16(uint16(len(sniExt)))...)
	exts = append(exts, sniExt...)
	// supported_groups: x25519, secp256r1
	groups := append(u16(4), append(u16(0x001d), u16(0x0017)...)...)
	exts = append(exts, u16(10)...)
	exts = append(exts, u16(uint16(len(groups)))...)
	exts = append(exts, groups...)
	// ec_point_formats: uncompressed
	exts = append(exts, u16(11)...)
	exts = append(exts, u16(2)...)
	exts = append(exts, 1, 0)

	body = append(body, u16(uint16(len(exts)))...)
	body = append(body, exts...)

	hs := append([]byte{0x01, 0, 0, 0}, body...)
	hs[1] = byte(len(body) >> 16)
	hs[2] = byte(len(body) >> 8)
	hs[3] = byte(len(body))

	rec := append([]byte{0x16, 0x03, 0x01}, u16(uint16(len(hs)))...)
	return append(rec, hs...)
}

func TestParseClientHello(t *testing.T) {
	payload := buildClientHello("api.openai.com", 0)
	info := ParseClientHello(payload)
	require.NotNil(t, info)
	assert.Equal(t, "api.openai.com", info.SNI)
	assert.Len(t, info.JA3, 32)
}

func TestParseClientHelloIgnoresGrease(t *testing.T) {
	plain := ParseClientHello(buildClientHello("example.com", 0))
	greasy := ParseClientHello(buildClientHello("example.com", 0x5a5a))
	require.NotNil(t, plain)
	require.NotNil(t, greasy)
	assert.Equal(t, plain.JA3, greasy.JA3, "GREASE ciphers do not change the fingerprint")
}

func TestParseClientHelloRejectsJunk(t *testing.T) {
	assert.Nil(t, ParseClientHello(nil))
	assert.Nil(t, ParseClientHello([]byte{0x17, 0x03, 0x03, 0x00, 0x05, 1, 2, 3, 4, 5}))
	assert.Nil(t, ParseClientHello([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")))
}

func TestParseHTTPRequest(t *testing.T) {
	host, ua := parseHTTPRequest([]byte("GET /v1/chat HTTP/1.1\r\nHost: chatgpt.com\r\nUser-Agent: curl/8.0\r\n\r\n"))
	assert.Equal(t, "chatgpt.com", host)
	assert.Equal(t, "curl/8.0", ua)

	host, _ = parseHTTPRequest([]byte("random bytes"))
	assert.Equal(t, "", host)
}
