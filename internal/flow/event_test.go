package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		Timestamp:       time.Now(),
		SourceIP:        "192.168.1.10",
		DestinationIP:   "104.18.3.161",
		SourcePort:      51234,
		DestinationPort: 443,
		Protocol:        ProtoHTTPS,
		BytesSent:       1200,
		BytesReceived:   4800,
		Metadata:        map[string]string{MetaSNI: "api.openai.com"},
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{"valid", func(*Event) {}, nil},
		{"bad source ip", func(e *Event) { e.SourceIP = "not-an-ip" }, ErrInvalidAddress},
		{"bad destination ip", func(e *Event) { e.DestinationIP = "" }, ErrInvalidAddress},
		{"port too high", func(e *Event) { e.DestinationPort = 70000 }, ErrInvalidPort},
		{"negative port", func(e *Event) { e.SourcePort = -1 }, ErrInvalidPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := validEvent()
			tt.mutate(evt)
			err := evt.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestEventValidateNegativeBytes(t *testing.T) {
	evt := validEvent()
	evt.BytesSent = -5
	assert.Error(t, evt.Validate())
}

func TestHostPrecedence(t *testing.T) {
	evt := validEvent()
	evt.Metadata = map[string]string{
		MetaHost:     "host.example.com",
		MetaSNI:      "sni.example.com",
		MetaDNSQuery: "dns.example.com",
	}
	assert.Equal(t, "host.example.com", evt.Host())

	delete(evt.Metadata, MetaHost)
	assert.Equal(t, "sni.example.com", evt.Host())

	delete(evt.Metadata, MetaSNI)
	assert.Equal(t, "dns.example.com", evt.Host())

	evt.Metadata = nil
	assert.Equal(t, "", evt.Host())
}

func TestPartitionKeyStable(t *testing.T) {
	a := validEvent()
	b := validEvent()
	// Same 5-tuple must map to the same worker regardless of payload sizes.
	b.BytesSent = 999999
	b.Metadata = nil
	assert.Equal(t, a.PartitionKey(), b.PartitionKey())

	c := validEvent()
	c.SourcePort = 51235
	assert.NotEqual(t, a.PartitionKey(), c.PartitionKey())
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal("192.168.1.10"))
	assert.True(t, IsInternal("10.0.0.1"))
	assert.True(t, IsInternal("172.16.4.2"))
	assert.True(t, IsInternal("127.0.0.1"))
	assert.False(t, IsInternal("104.18.3.161"))
	assert.False(t, IsInternal("garbage"))
}

func TestIsMulticastOrBroadcast(t *testing.T) {
	assert.True(t, IsMulticastOrBroadcast("224.0.0.251"))
	assert.True(t, IsMulticastOrBroadcast("239.255.255.250"))
	assert.True(t, IsMulticastOrBroadcast("255.255.255.255"))
	assert.False(t, IsMulticastOrBroadcast("8.8.8.8"))
}
