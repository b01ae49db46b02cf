package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883"}
	cfg.ApplyDefaults()

	assert.Equal(t, "pulse/+/events", cfg.Topic)
	assert.Contains(t, cfg.ClientID, "pulse-relay-")
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	_, err := NewCollector(Config{}, nil)
	require.Error(t, err)

	_, err = NewCollector(Config{Broker: "tcp://b:1883", QoS: 3}, nil)
	require.Error(t, err)
}

func TestCollectorFeedsPayloads(t *testing.T) {
	broker := &fakeClient{}
	col, err := NewCollector(Config{Broker: "tcp://b:1883", Topic: "pulse/+/events", QoS: 1}, zap.NewNop())
	require.NoError(t, err)
	col.WithClientFactory(broker.factory)

	var (
		mu  sync.Mutex
		got []string
	)
	require.NoError(t, col.Start(func(raw []byte) {
		mu.Lock()
		got = append(got, string(raw))
		mu.Unlock()
	}))

	assert.Equal(t, "pulse/+/events", broker.subscribedTopic())
	broker.deliver("pulse/s1/events", []byte(`{"source_id":"s1","sequence":1}`))
	broker.deliver("pulse/s2/events", []byte(`{"source_id":"s2","sequence":7}`))

	mu.Lock()
	assert.Equal(t, []string{`{"source_id":"s1","sequence":1}`, `{"source_id":"s2","sequence":7}`}, got)
	mu.Unlock()

	require.Error(t, col.Start(func([]byte) {}), "second start must fail")

	require.NoError(t, col.Stop())
	assert.True(t, broker.disconnected())
	require.NoError(t, col.Stop(), "stop is idempotent")
}

func TestCollectorConnectFailure(t *testing.T) {
	broker := &fakeClient{connectErr: errors.New("connection refused")}
	col, err := NewCollector(Config{Broker: "tcp://b:1883"}, nil)
	require.NoError(t, err)
	col.WithClientFactory(broker.factory)

	err = col.Start(func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

// fakeClient is an in-process stand-in for a broker connection.
type fakeClient struct {
	mu         sync.Mutex
	opts       *paho.ClientOptions
	connectErr error
	topic      string
	handler    paho.MessageHandler
	gone       bool
}

func (f *fakeClient) factory(opts *paho.ClientOptions) paho.Client {
	f.opts = opts
	return f
}

func (f *fakeClient) subscribedTopic() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topic
}

func (f *fakeClient) disconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gone
}

func (f *fakeClient) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: payload})
}

func (f *fakeClient) IsConnected() bool      { return !f.disconnected() }
func (f *fakeClient) IsConnectionOpen() bool { return !f.disconnected() }

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.gone = true
	f.mu.Unlock()
}

func (f *fakeClient) Connect() paho.Token {
	if f.connectErr != nil {
		return &doneToken{err: f.connectErr}
	}
	if f.opts != nil && f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return &doneToken{}
}

func (f *fakeClient) Publish(string, byte, bool, interface{}) paho.Token { return &doneToken{} }

func (f *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.topic = topic
	f.handler = cb
	f.mu.Unlock()
	return &doneToken{}
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &doneToken{}
}

func (f *fakeClient) Unsubscribe(...string) paho.Token        { return &doneToken{} }
func (f *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (f *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
