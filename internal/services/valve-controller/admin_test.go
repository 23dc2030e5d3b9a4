package valve_controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq/rabbitmqtest"
)

// ===== Notifier =====

func TestMQTTNotifierTopics(t *testing.T) {
	client := rabbitmqtest.NewClient()
	n := NewMQTTNotifier("node-7", func(topic string) rabbitmq.IPublisher {
		return rabbitmq.NewPublisher(client, topic, time.Second)
	}, nopLogger())
	ctx := context.Background()

	n.StateChanged(ctx, messages.StateChangeEvent{NodeID: "node-7", SessionID: "s1"})
	n.SessionClosed(ctx, messages.IrrigationResultEvent{NodeID: "node-7", SessionID: "s1", Reason: messages.ReasonDuration})
	n.ScheduleChanged(ctx, messages.ScheduleChangedEvent{NodeID: "node-7", Schedules: entities.DefaultConfig().Schedules, DurationSeconds: 30})

	pub := client.Published()
	require.Len(t, pub, 3)
	assert.Equal(t, "valve/node-7/state", pub[0].Topic)
	assert.Equal(t, "valve/node-7/result", pub[1].Topic)
	assert.Equal(t, "valve/node-7/config", pub[2].Topic)
	for _, p := range pub {
		assert.Equal(t, byte(1), p.QoS)
	}
	assert.False(t, pub[0].Retained)
	assert.True(t, pub[2].Retained)

	var res messages.IrrigationResultEvent
	require.NoError(t, json.Unmarshal(pub[1].Payload, &res))
	assert.Equal(t, messages.ReasonDuration, res.Reason)
}

func TestMQTTNotifierPublishErrorDoesNotPanic(t *testing.T) {
	client := rabbitmqtest.NewClient()
	client.PublishErr = errors.New("broker gone")
	n := NewMQTTNotifier("n", func(topic string) rabbitmq.IPublisher {
		return rabbitmq.NewPublisher(client, topic, time.Millisecond)
	}, nopLogger())

	assert.NotPanics(t, func() {
		n.StateChanged(context.Background(), messages.StateChangeEvent{})
	})
	assert.Empty(t, client.Published())
}

func TestNotifiersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ns := Notifiers{a, b, NopNotifier{}}
	ns.SessionClosed(context.Background(), messages.IrrigationResultEvent{SessionID: "x"})
	assert.Len(t, a.Results(), 1)
	assert.Len(t, b.Results(), 1)
}

// ===== gRPC =====

type stubAdmin struct {
	snap    Snapshot
	setErr  error
	synced  bool
	syncErr error
}

func (s *stubAdmin) Snapshot() Snapshot { return s.snap }

func (s *stubAdmin) SetClock(_ context.Context, v string) (time.Time, error) {
	if s.setErr != nil {
		return time.Time{}, s.setErr
	}
	return ParseManualTime(v, time.UTC)
}

func (s *stubAdmin) SyncClock(context.Context) (bool, error) { return s.synced, s.syncErr }

func TestGrpcGetStatus(t *testing.T) {
	h := NewGrpcHandler(&stubAdmin{snap: Snapshot{
		NodeID: "node-1",
		Valve:  ValveStatus{Open: true, Trigger: "remote", Manual: true},
		Config: entities.DefaultConfig(),
	}})

	st, err := h.GetStatus(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	m := st.AsMap()
	assert.Equal(t, "node-1", m["node_id"])
	valve := m["valve"].(map[string]any)
	assert.Equal(t, true, valve["manual"])
	cfg := m["config"].(map[string]any)
	assert.Equal(t, float64(30), cfg["duration_seconds"])
}

func TestGrpcSetClockCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"invalid", fmt.Errorf("%w: nope", ErrInvalidTime), codes.InvalidArgument},
		{"busy", context.DeadlineExceeded, codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewGrpcHandler(&stubAdmin{setErr: tc.err})
			_, err := h.SetClock(context.Background(), wrapperspb.String("02/12/2025 06:55"))
			assert.Equal(t, tc.code, status.Code(err))
		})
	}

	h := NewGrpcHandler(&stubAdmin{})
	st, err := h.SetClock(context.Background(), wrapperspb.String("02/12/2025 06:55"))
	require.NoError(t, err)
	assert.Equal(t, "2025-12-02T06:55:00Z", st.AsMap()["clock"])
}

func TestGrpcSyncClock(t *testing.T) {
	h := NewGrpcHandler(&stubAdmin{synced: false})
	st, err := h.SyncClock(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, false, st.AsMap()["success"])
}

// ===== Console =====

// syncBuffer is a bytes.Buffer safe for the console goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runConsole(t *testing.T, admin Admin, input string) string {
	t.Helper()
	out := &syncBuffer{}
	shown := 0
	c := &Console{
		admin:  admin,
		show:   func(context.Context) error { shown++; return nil },
		in:     strings.NewReader(input),
		out:    out,
		logger: nopLogger(),
	}
	require.NoError(t, c.Run(context.Background()))
	if strings.Contains(input, "C\n") {
		assert.Equal(t, 1, shown)
	}
	return out.String()
}

func TestConsoleCommands(t *testing.T) {
	admin := &stubAdmin{synced: true}
	out := runConsole(t, admin, "T 02/12/2025 06:55\nt\n03/12/2025 07:00\nS\nC\nx\nT 1/1/2025\n")

	assert.Contains(t, out, "RTC set to 02/12/2025 06:55")
	assert.Contains(t, out, "enter the new date and time")
	assert.Contains(t, out, "RTC set to 03/12/2025 07:00")
	assert.Contains(t, out, "clock synced")
	assert.Contains(t, out, `unknown command "x"`)
	assert.Contains(t, out, "rejected:")
}

func TestConsoleSyncUnavailable(t *testing.T) {
	out := runConsole(t, &stubAdmin{synced: false}, "s\n")
	assert.Contains(t, out, "network time unavailable")
}

func TestConsoleStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := &Console{admin: &stubAdmin{}, show: func(context.Context) error { return nil }, in: r, out: io.Discard, logger: nopLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

// ===== Settings =====

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSettings(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "node-1", s.NodeID)
	assert.Equal(t, "/api/water-status", s.API.IntentPath)
	assert.Equal(t, "/api/schedules/esp32", s.API.SchedulePath)
	assert.Equal(t, 5*time.Second, s.Intervals.RemotePoll)
	assert.Equal(t, time.Minute, s.Intervals.ScheduleSync)
	assert.Equal(t, 15*time.Minute, s.NTP.StaleAfter)
	assert.Equal(t, 1883, s.MQTT.Port)
	assert.Equal(t, "Asia/Jakarta", s.Location().String())

	opts := s.EngineOptions()
	assert.Equal(t, time.Minute, opts.Intervals.ClockCheck)
	assert.Equal(t, 3, s.RemoteConfig().Failures)
}

func TestLoadSettingsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
node_id: garden-2
api:
  base_url: http://server:5000
intervals:
  remote_poll: 10s
hardware:
  driver: raspi
`), 0o644))
	t.Setenv("VALVE_API_BASE_URL", "http://override:5000")
	t.Setenv("VALVE_MQTT_PORT", "8883")

	s, err := LoadSettings(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, "garden-2", s.NodeID)
	assert.Equal(t, "http://override:5000", s.API.BaseURL)
	assert.Equal(t, 10*time.Second, s.Intervals.RemotePoll)
	assert.Equal(t, "raspi", s.Hardware.Driver)
	assert.Equal(t, 8883, s.MQTT.Port)
}

func TestSettingsValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("node_id", " ")
	v.Set("timezone", "Mars/Olympus")
	v.Set("hardware.driver", "arduino")
	v.Set("intervals.remote_poll", "0s")
	var s Settings
	require.NoError(t, v.Unmarshal(&s))

	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{"node_id", "timezone", "hardware.driver", "intervals.remote_poll"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadSettingsMissingExplicitFile(t *testing.T) {
	_, err := LoadSettings(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
