package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// fakePort replays canned controller output and records what was written.
type fakePort struct {
	rx     *bytes.Buffer
	tx     bytes.Buffer
	closed bool
}

func newFakePort(lines ...string) *fakePort {
	return &fakePort{rx: bytes.NewBufferString(strings.Join(lines, ""))}
}

func (fp *fakePort) Read(b []byte) (int, error) {
	return fp.rx.Read(b)
}

func (fp *fakePort) Write(b []byte) (int, error) {
	return fp.tx.Write(b)
}

func (fp *fakePort) Close() error {
	fp.closed = true
	return nil
}

func TestSerialCommandNoResp(t *testing.T) {
	port := newFakePort("{\"ok\":true}\n")
	s := NewSerial(port)

	err := s.CommandNoResp(context.Background(), OpGpioSet, GpioSetParams{GpioNum: 5, Active: false})
	if err != nil {
		t.Fatalf("CommandNoResp returned err: %v", err)
	}

	want := `{"id":1,"cmd":"gpio-set","params":{"gpio_num":5,"active":false}}` + "\n"
	if port.tx.String() != want {
		t.Errorf("wrote %q want %q", port.tx.String(), want)
	}
}

func TestSerialSkipsChatter(t *testing.T) {
	port := newFakePort(
		"I (1203) gpio: GPIO[5] configured\n",
		"\r\n",
		"{\"ok\":true,\"data\":{\"gpio_num\":5,\"active\":true}}\r\n",
	)
	s := NewSerial(port)

	raw, err := s.Command(context.Background(), OpGpioGet, GpioGetParams{GpioNum: 5})
	if err != nil {
		t.Fatalf("Command returned err: %v", err)
	}
	state := GpioState{}
	json.Unmarshal(raw, &state)
	assertBools(t, state.Active, true)
}

func TestSerialReplies(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		s := NewSerial(newFakePort("{\"ok\":false,\"error\":\"bad gpio\"}\n"))
		err := s.CommandNoResp(context.Background(), OpGpioConf, GpioConfParams{GpioNum: 99, Mode: "out"})
		if err == nil || !strings.Contains(err.Error(), "bad gpio") {
			t.Errorf("expected rejection, got %v", err)
		}
	})

	t.Run("no payload", func(t *testing.T) {
		s := NewSerial(newFakePort("{\"ok\":true,\"data\":null}\n"))
		_, err := s.Command(context.Background(), OpNvsGet, nil)
		if !errors.Is(err, ErrNoResponse) {
			t.Errorf("expected ErrNoResponse, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		s := NewSerial(newFakePort("{\"ok\":tru\n"))
		err := s.CommandNoResp(context.Background(), OpNvsSet, NvsParams{UnitSn: "1"})
		if err == nil {
			t.Error("expected error for malformed reply")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		s := NewSerial(newFakePort("{\"ok\":"))
		s.Timeout = 20 * time.Millisecond
		err := s.CommandNoResp(context.Background(), OpNvsSet, NvsParams{UnitSn: "1"})
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("expected timeout, got %v", err)
		}
	})
}

// lateFixture answers gpio-get with pin 1 high and every other pin low. While
// hold is set its replies are kept back until a later write or release.
type lateFixture struct {
	rx     bytes.Buffer
	held   [][]byte
	hold   bool
	echoId bool
}

func (lf *lateFixture) Read(b []byte) (int, error) {
	return lf.rx.Read(b)
}

func (lf *lateFixture) Write(b []byte) (int, error) {
	req := Request{}
	if err := json.Unmarshal(bytes.TrimSpace(b), &req); err != nil {
		return 0, err
	}
	p := GpioGetParams{}
	json.Unmarshal(req.Params, &p)

	resp := Response{Ok: true}
	if lf.echoId {
		resp.Id = req.Id
	}
	resp.Data, _ = json.Marshal(GpioState{GpioNum: p.GpioNum, Active: p.GpioNum == 1})
	line, _ := json.Marshal(resp)

	if lf.hold {
		lf.held = append(lf.held, append(line, '\n'))
		return len(b), nil
	}
	lf.release()
	lf.rx.Write(append(line, '\n'))
	return len(b), nil
}

func (lf *lateFixture) release() {
	for _, line := range lf.held {
		lf.rx.Write(line)
	}
	lf.held = nil
}

func (lf *lateFixture) Close() error {
	return nil
}

func TestSerialLateReplyIsNotReused(t *testing.T) {
	ctx := context.Background()

	readPin := func(s *Serial, num uint16) (GpioState, error) {
		state := GpioState{}
		raw, err := s.Command(ctx, OpGpioGet, GpioGetParams{GpioNum: num})
		if err != nil {
			return state, err
		}
		err = json.Unmarshal(raw, &state)
		return state, err
	}

	t.Run("arrived before next request", func(t *testing.T) {
		port := &lateFixture{hold: true}
		s := NewSerial(port)
		s.Timeout = 20 * time.Millisecond

		if _, err := readPin(s, 1); err == nil {
			t.Fatal("expected timeout on first read")
		}
		port.hold = false
		port.release()

		state, err := readPin(s, 2)
		if err != nil {
			t.Fatalf("second read returned err: %v", err)
		}
		if state.GpioNum != 2 || state.Active {
			t.Errorf("got %+v want reply for gpio 2", state)
		}
	})

	t.Run("arrived after next request", func(t *testing.T) {
		port := &lateFixture{hold: true, echoId: true}
		s := NewSerial(port)
		s.Timeout = 20 * time.Millisecond

		if _, err := readPin(s, 1); err == nil {
			t.Fatal("expected timeout on first read")
		}
		port.hold = false

		state, err := readPin(s, 2)
		if err != nil {
			t.Fatalf("second read returned err: %v", err)
		}
		if state.GpioNum != 2 || state.Active {
			t.Errorf("got %+v want reply for gpio 2", state)
		}
	})
}

func TestSerialClose(t *testing.T) {
	port := newFakePort()
	s := NewSerial(port)
	s.Close()
	assertBools(t, port.closed, true)
}
