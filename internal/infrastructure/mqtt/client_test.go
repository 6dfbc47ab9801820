package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	def := Topics{}
	custom := Topics{Prefix: "farm/greenhouse"}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Command", def.Command("fern-01"), "irrigation/command/fern-01"},
		{"Ack", def.Ack("fern-01"), "irrigation/ack/fern-01"},
		{"Status", def.Status("fern-01"), "irrigation/status/fern-01"},
		{"Sensors", def.Sensors("fern-01"), "irrigation/sensors/fern-01"},
		{"SystemStatus", def.SystemStatus(), "irrigation/system/status"},
		{"Event", def.Event("automation.disabled"), "irrigation/event/automation.disabled"},
		{"AllAcks", def.AllAcks(), "irrigation/ack/+"},
		{"AllStatus", def.AllStatus(), "irrigation/status/+"},
		{"AllSensors", def.AllSensors(), "irrigation/sensors/+"},
		{"CustomPrefix", custom.Command("tomato"), "farm/greenhouse/command/tomato"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestPlantFromTopic(t *testing.T) {
	tests := map[string]string{
		"irrigation/ack/fern-01": "fern-01",
		"farm/x/status/tomato":   "tomato",
		"plain":                  "plain",
		"irrigation/sensors/":    "",
	}
	for topic, want := range tests {
		if got := PlantFromTopic(topic); got != want {
			t.Errorf("PlantFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "irrigationd"},
		Auth:   config.MQTTAuthConfig{Username: "svc", Password: "secret"},
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "irrigationd" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "svc" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS not configured")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "h", Port: 1883}})
	configureLWT(opts, Topics{}.SystemStatus(), "irrigationd")

	if !opts.WillEnabled || opts.WillTopic != "irrigation/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestConnectBackoff_Attempts(t *testing.T) {
	tests := []struct {
		maxAttempts int
		want        int
	}{
		{1, 1},
		{3, 3},
		{0, defaultConnectAttempts},
	}
	for _, tt := range tests {
		bo := connectBackoff(config.MQTTReconnectConfig{MaxAttempts: tt.maxAttempts})
		bo.Reset()
		attempts := 1
		for bo.NextBackOff() >= 0 {
			attempts++
		}
		if attempts != tt.want {
			t.Errorf("MaxAttempts %d: attempts = %d, want %d", tt.maxAttempts, attempts, tt.want)
		}
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	err := (&Client{}).HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "irrigation/test", 3, nil, ErrInvalidQoS},
		{"oversized", "irrigation/test", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"disconnected", "irrigation/test", 1, []byte("{}"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_MarshalError(t *testing.T) {
	err := (&Client{}).PublishJSON("irrigation/test", make(chan int), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := client.Subscribe("irrigation/ack/+", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := client.Subscribe("irrigation/ack/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := client.Subscribe("irrigation/ack/+", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty error = %v", err)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler(t *testing.T) {
	client := &Client{}
	logger := &mockLogger{}
	client.SetLogger(logger)

	msg := fakeMessage{topic: "irrigation/ack/fern-01", payload: []byte("{}")}

	client.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, msg)
	client.wrapHandler(func(string, []byte) error { panic("boom") })(nil, msg)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want 1 (panic)", logger.errors)
	}
}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
