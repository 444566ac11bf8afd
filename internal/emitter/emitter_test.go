package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-gaze/internal/types"
)

var testMeta = Meta{InstanceID: "gaze-01", SessionID: "s-1"}

func testSnapshot() types.Snapshot {
	sacc := types.SaccadeEvent{Start: 1, End: 1.5, Amplitude: 0.3, Velocity: 0.6, Axis: types.AxisH}
	jit := types.JitterEvent{Timestamp: 1.5, Velocity: -0.07, Axis: types.AxisV}
	return types.Snapshot{
		Timestamp: 1.5,
		H:         types.SomeRatio(0.8),
		V:         types.NoRatio,
		LastH:     sacc,
		LastV:     jit,
		Emitted:   []types.Event{sacc, jit},
	}
}

func TestNewEventPayload(t *testing.T) {
	p := NewEventPayload(testMeta, types.SaccadeEvent{Start: 1, End: 1.5, Amplitude: 0.3, Velocity: 0.6, Axis: types.AxisH})
	assert.Equal(t, EventPayload{
		SessionID: "s-1", InstanceID: "gaze-01",
		Label: "H-SACCADE", Axis: "H", Kind: "SACCADE",
		TStart: 1, TEnd: 1.5, Amplitude: 0.3, Velocity: 0.6, Duration: 0.5,
	}, p)

	j := NewEventPayload(testMeta, types.JitterEvent{Timestamp: 2, Velocity: 0.07, Axis: types.AxisV})
	assert.Equal(t, "V-JITTER", j.Label)
	assert.Equal(t, 2.0, j.TStart)
	assert.Equal(t, 2.0, j.TEnd)
	assert.Equal(t, 0.0, j.Duration)
}

func TestSnapshotPayload_JSON(t *testing.T) {
	data, err := NewSnapshotPayload(testMeta, testSnapshot()).ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, 0.8, decoded["h_ratio"])
	assert.Nil(t, decoded["v_ratio"])
	assert.Len(t, decoded["emitted"], 2)
	assert.Equal(t, "H-SACCADE", decoded["last_h_event"].(map[string]interface{})["label"])

	empty, err := NewSnapshotPayload(testMeta, types.Snapshot{}).ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"last_h_event":null`)
	assert.Contains(t, string(empty), `"emitted":[]`)
}

// doneToken is an already-completed paho token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the publisher uses.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	msgs       []published
	failTopic  string
	connectErr error
	disconnect int
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken{err: c.connectErr} }
func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint) { c.disconnect++ }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failTopic {
		return doneToken{err: errors.New("broker rejected")}
	}
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}

func newTestMQTT(t *testing.T, cfg MQTTConfig, client *fakeClient) *MQTTPublisher {
	t.Helper()
	p := NewMQTTPublisher(cfg, nil)
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	require.NoError(t, p.Connect(context.Background()))
	return p
}

func TestMQTTPublisher_PublishesEventsPerLabelTopic(t *testing.T) {
	client := &fakeClient{}
	p := newTestMQTT(t, MQTTConfig{
		Broker:           "localhost:1883",
		ClientID:         "gaze-01",
		EventsTopic:      "gaze/events/gaze-01",
		SnapshotsTopic:   "gaze/snapshots/gaze-01",
		PublishSnapshots: true,
		QoS:              map[string]byte{"events": 1},
		Meta:             testMeta,
	}, client)

	require.NoError(t, p.Publish(context.Background(), testSnapshot()))

	require.Len(t, client.msgs, 3)
	assert.Equal(t, "gaze/events/gaze-01/H-SACCADE", client.msgs[0].topic)
	assert.Equal(t, byte(1), client.msgs[0].qos)
	assert.Equal(t, "gaze/events/gaze-01/V-JITTER", client.msgs[1].topic)
	assert.Equal(t, "gaze/snapshots/gaze-01", client.msgs[2].topic)
	assert.Equal(t, byte(0), client.msgs[2].qos)

	var ev EventPayload
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &ev))
	assert.Equal(t, "s-1", ev.SessionID)
	assert.Equal(t, 0.3, ev.Amplitude)

	stats := p.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.Published["gaze/events/gaze-01/V-JITTER"])

	require.NoError(t, p.Close())
	assert.Equal(t, 1, client.disconnect)
}

func TestMQTTPublisher_SkipsSnapshotsWhenDisabled(t *testing.T) {
	client := &fakeClient{}
	p := newTestMQTT(t, MQTTConfig{EventsTopic: "e", SnapshotsTopic: "s"}, client)

	require.NoError(t, p.Publish(context.Background(), types.Snapshot{Timestamp: 1}))
	assert.Empty(t, client.msgs)
}

func TestMQTTPublisher_ReportsPartialFailure(t *testing.T) {
	client := &fakeClient{failTopic: "e/H-SACCADE"}
	p := newTestMQTT(t, MQTTConfig{EventsTopic: "e"}, client)

	err := p.Publish(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker rejected")
	assert.Len(t, client.msgs, 1, "the V event still goes out")
	assert.Equal(t, uint64(1), p.Stats().Errors)
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{}, nil)

	assert.ErrorIs(t, p.Publish(context.Background(), testSnapshot()), ErrNotConnected)
	assert.Equal(t, "mqtt", p.Name())
}

func TestMQTTPublisher_ConnectError(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{Broker: "nowhere:1883"}, nil)
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client {
		return &fakeClient{connectErr: errors.New("connection refused")}
	}

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStreamValues(t *testing.T) {
	v := streamValues(NewEventPayload(testMeta, types.JitterEvent{Timestamp: 2.25, Velocity: -0.07, Axis: types.AxisV}))

	assert.Equal(t, "V-JITTER", v["label"])
	assert.Equal(t, "2.25", v["t_end"])
	assert.Equal(t, "-0.07", v["velocity"])
	assert.Equal(t, "gaze-01", v["instance_id"])
}

func TestRedisPublisher_Defaults(t *testing.T) {
	p := newRedisPublisher(nil, RedisConfig{}, nil)

	args := p.addArgs(EventPayload{Label: "H-SACCADE"})
	assert.Equal(t, "gaze:events", args.Stream)
	assert.Equal(t, int64(DefaultStreamMaxLen), args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, "redis", p.Name())

	assert.NoError(t, p.Publish(context.Background(), types.Snapshot{}), "no events, no round trip")
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), RedisConfig{URL: "not a url"}, nil)
	assert.Error(t, err)
}
