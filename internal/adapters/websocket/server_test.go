package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/adapters/codec"
	"github.com/ghalamif/PulseFlow/internal/adapters/observability"
	"github.com/ghalamif/PulseFlow/internal/adapters/queue"
	"github.com/ghalamif/PulseFlow/internal/app/fanout"
	"github.com/ghalamif/PulseFlow/internal/app/pipeline"
	"github.com/ghalamif/PulseFlow/internal/app/stats"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

type testRelay struct {
	srv    *Server
	http   *httptest.Server
	fan    *fanout.Broadcaster
	agg    *stats.Aggregator
	policy ports.Policy
}

func newTestRelay(t *testing.T, pol ports.Policy) *testRelay {
	t.Helper()
	obs := observability.NewLogObs(zap.NewNop())
	agg := stats.NewAggregator(0)
	fan := fanout.NewBroadcaster(nil, time.Second, obs)
	coord := pipeline.NewCoordinator(pol, codec.NewJSONCodec(), ports.SystemClock{}, agg, fan, obs,
		func(w int64) ports.EventBuffer { return queue.NewReorderBuffer(w) })

	srv := NewServer(coord, fan, pol, zap.NewNop())
	mux := http.NewServeMux()
	srv.Register(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
	})
	return &testRelay{srv: srv, http: hs, fan: fan, agg: agg, policy: pol}
}

func (r *testRelay) dial(t *testing.T, path string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + path
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (r *testRelay) waitSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.fan.Registry().Len() == n },
		2*time.Second, 5*time.Millisecond, "expected %d subscribers", n)
}

func TestProducerToSubscriber(t *testing.T) {
	for _, paths := range [][2]string{
		{"/ws/source", "/ws/subscribe"},
		{"/ws/patient", "/ws/dashboard"},
	} {
		t.Run(paths[0], func(t *testing.T) {
			relay := newTestRelay(t, ports.Policy{WindowMs: 0, WriteTimeout: time.Second})
			dashboard := relay.dial(t, paths[1])
			relay.waitSubscribers(t, 1)

			producer := relay.dial(t, paths[0])
			require.NoError(t, producer.WriteMessage(ws.TextMessage,
				[]byte(`{"patient_id":"p1","seq":1,"payload":{"hr":80}}`)))

			require.NoError(t, dashboard.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, data, err := dashboard.ReadMessage()
			require.NoError(t, err)

			var frame domain.Frame
			require.NoError(t, json.Unmarshal(data, &frame))
			assert.Equal(t, "p1", frame.SourceID)
			assert.Equal(t, int64(1), frame.Sequence)
			assert.Equal(t, 80.0, frame.Fields["hr"])
		})
	}
}

func TestMalformedFrameKeepsProducerSession(t *testing.T) {
	relay := newTestRelay(t, ports.Policy{WindowMs: 0, WriteTimeout: time.Second})
	dashboard := relay.dial(t, "/ws/subscribe")
	relay.waitSubscribers(t, 1)

	producer := relay.dial(t, "/ws/source")
	require.NoError(t, producer.WriteMessage(ws.TextMessage, []byte(`{"source_id":`)))
	require.NoError(t, producer.WriteMessage(ws.TextMessage, []byte(`{"source_id":"s","sequence":2}`)))

	require.NoError(t, dashboard.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := dashboard.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sequence":2`)
}

func TestSubscriberDisconnectUnsubscribes(t *testing.T) {
	relay := newTestRelay(t, ports.Policy{WriteTimeout: time.Second})
	dashboard := relay.dial(t, "/ws/dashboard")
	relay.waitSubscribers(t, 1)

	require.NoError(t, dashboard.WriteMessage(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, "")))
	_ = dashboard.Close()
	relay.waitSubscribers(t, 0)
}

func TestOversizedFrameEndsSession(t *testing.T) {
	relay := newTestRelay(t, ports.Policy{WriteTimeout: time.Second, MaxFrameBytes: 64})
	producer := relay.dial(t, "/ws/source")

	big := `{"source_id":"s","sequence":1,"fields":{"blob":"` + strings.Repeat("x", 256) + `"}}`
	require.NoError(t, producer.WriteMessage(ws.TextMessage, []byte(big)))

	require.NoError(t, producer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := producer.ReadMessage()
	require.Error(t, err)
	_, ok := relay.agg.Snapshot("s")
	assert.False(t, ok, "oversized frame must not be ingested")
}

func TestCloseEndsOpenSessions(t *testing.T) {
	relay := newTestRelay(t, ports.Policy{WriteTimeout: time.Second})
	dashboard := relay.dial(t, "/ws/subscribe")
	producer := relay.dial(t, "/ws/source")
	relay.waitSubscribers(t, 1)

	done := make(chan struct{})
	go func() {
		relay.srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	relay.waitSubscribers(t, 0)
	for _, c := range []*ws.Conn{dashboard, producer} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := c.ReadMessage()
		require.Error(t, err)
	}
}

func TestServerPingsClients(t *testing.T) {
	relay := newTestRelay(t, ports.Policy{WriteTimeout: time.Second, PingInterval: 20 * time.Millisecond})
	dashboard := relay.dial(t, "/ws/subscribe")

	pinged := make(chan struct{}, 1)
	dashboard.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return dashboard.WriteControl(ws.PongMessage, nil, time.Now().Add(time.Second))
	})
	// control frames are only processed while reading
	go func() {
		for {
			if _, _, err := dashboard.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ping from the server")
	}
}
