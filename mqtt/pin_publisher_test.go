package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio"
)

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (rp *recordingPublisher) Publish(topic string, payload []byte) error {
	if rp.err != nil {
		return rp.err
	}
	rp.topics = append(rp.topics, topic)
	rp.payloads = append(rp.payloads, payload)
	return nil
}

func TestPinPublisherTopic(t *testing.T) {
	cases := map[string]string{
		"":           "fixture/gpio/RLY1",
		"bench-3":    "bench-3/gpio/RLY1",
		"lab/bench/": "lab/bench/gpio/RLY1",
	}

	for prefix, want := range cases {
		pp := NewPinPublisher(&recordingPublisher{}, prefix)
		if got := pp.Topic("RLY1"); got != want {
			t.Errorf("prefix %q: got %s want %s", prefix, got, want)
		}
	}
}

func TestPinPublisherPayload(t *testing.T) {
	rp := &recordingPublisher{}
	pp := NewPinPublisher(rp, "bench")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := pp.ObservePin(context.Background(), fixtureio.PinEvent{
		Name: "RLY1", GpioNum: 5, Dir: fixtureio.DirOut, Active: true, Level: false, At: at,
	})
	if err != nil {
		t.Fatalf("ObservePin returned err: %v", err)
	}

	if len(rp.topics) != 1 || rp.topics[0] != "bench/gpio/RLY1" {
		t.Fatalf("unexpected topics %v", rp.topics)
	}

	ev := fixtureio.PinEvent{}
	if err := json.Unmarshal(rp.payloads[0], &ev); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if ev.GpioNum != 5 || !ev.Active || ev.Level || !ev.At.Equal(at) {
		t.Errorf("unexpected payload %s", rp.payloads[0])
	}
}

func TestPinPublisherError(t *testing.T) {
	pp := NewPinPublisher(&recordingPublisher{err: errors.New("not connected")}, "")

	err := pp.ObservePin(context.Background(), fixtureio.PinEvent{Name: "X"})
	if err == nil {
		t.Error("expected publish error")
	}
}

func TestMqttClientNotConnected(t *testing.T) {
	mc, err := NewMqttClient("mqtt://127.0.0.1:1883", "test")
	if err != nil {
		t.Fatalf("NewMqttClient returned err: %v", err)
	}
	if err := mc.Publish("a/b", []byte("x")); err == nil {
		t.Error("expected error publishing without connection")
	}
}

func TestMqttClientStopsRetryingAfterFailedConnect(t *testing.T) {
	mc, err := NewMqttClient("mqtt://127.0.0.1:1", "test")
	if err != nil {
		t.Fatalf("NewMqttClient returned err: %v", err)
	}
	mc.logger = log.New(io.Discard)
	mc.ConnectTimeout = 100 * time.Millisecond
	mc.config.ConnectRetryDelay = 10 * time.Millisecond

	if err := mc.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting to a closed port")
	}

	after := mc.connectErrors()
	time.Sleep(200 * time.Millisecond)
	// one attempt may still be in flight when Connect gives up
	if got := mc.connectErrors(); got > after+1 {
		t.Errorf("connection manager kept retrying: %d errors after Connect returned, %d now", after, got)
	}
	if err := mc.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect on a failed client returned err: %v", err)
	}
}
