package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/events"
)

func setupWSTest(t *testing.T) (*events.Broker, *Hub, *websocket.Conn) {
	t.Helper()
	broker := events.NewBroker(16, zap.NewNop().Sugar())
	hub := NewHub(broker, nil, zap.NewNop().Sugar())

	ctrl := &fakeController{startedAt: time.Now()}
	srv := httptest.NewServer(NewServer(ctrl, hub, nil, zap.NewNop().Sugar()))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		hub.Close()
		srv.Close()
		broker.Close()
	})
	return broker, hub, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) contracts.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg contracts.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubPushesAlerts(t *testing.T) {
	broker, hub, conn := setupWSTest(t)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	alert := contracts.Alert{ID: "a1", Severity: contracts.SeverityHigh, SourceIP: "192.168.1.10"}
	broker.Publish(events.TopicAlerts, alert)

	msg := readEnvelope(t, conn)
	assert.Equal(t, "alert", msg.Type)

	payload, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var got contracts.Alert
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, contracts.SeverityHigh, got.Severity)
}

func TestHubPushesGraphChanges(t *testing.T) {
	broker, hub, conn := setupWSTest(t)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	broker.Publish(events.TopicGraphChanges, contracts.GraphChange{
		Source: "192.168.1.10", Target: "104.18.3.161", At: time.Now(),
	})

	msg := readEnvelope(t, conn)
	assert.Equal(t, "graph", msg.Type)
	assert.Nil(t, msg.Payload)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	_, hub, conn := setupWSTest(t)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection closed by hub")
}
