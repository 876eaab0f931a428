package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const loopbackTransportName = "loopback"

// ErrInjected is returned for commands failed on purpose with FailAfter.
var ErrInjected = errors.New("loopback: injected failure")

type loopbackPin struct {
	mode     string
	level    bool
	pullUp   bool
	pullDown bool
}

// Loopback is an in-memory fixture: every level written with gpio-set reads
// back unchanged through gpio-get on the same gpio number.
type Loopback struct {
	Logger *log.Logger

	mu       sync.Mutex
	pins     map[uint16]*loopbackPin
	nvs      NvsParams
	requests []Request
	failOps  map[string]int

	writeTo          io.Writer
	writeStateChange bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		pins:    make(map[uint16]*loopbackPin),
		failOps: make(map[string]int),
	}
}

func (lb *Loopback) String() string {
	return loopbackTransportName
}

func (lb *Loopback) Close() error {
	return nil
}

// FailAfter lets the first n calls of op succeed and fails every later one.
func (lb *Loopback) FailAfter(op string, n int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.failOps[op] = n
}

// Requests returns every command received so far, failed ones included.
func (lb *Loopback) Requests() []Request {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := make([]Request, len(lb.requests))
	copy(out, lb.requests)
	return out
}

func (lb *Loopback) Count(op string) (n int) {
	for _, req := range lb.Requests() {
		if req.Cmd == op {
			n++
		}
	}
	return
}

// Level reports the electrical level of a pin and whether the pin is known.
func (lb *Loopback) Level(gpioNum uint16) (level bool, known bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	pin, known := lb.pins[gpioNum]
	if !known {
		return false, false
	}
	return pin.level, true
}

// SetLevel drives a pin from the outside, the way a device under test drives
// a fixture input.
func (lb *Loopback) SetLevel(gpioNum uint16, level bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.pin(gpioNum).level = level
}

func (lb *Loopback) MonitorStateChanges(writer io.Writer) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.writeTo = writer
	lb.writeStateChange = true
}

func (lb *Loopback) Command(ctx context.Context, op string, params any) (json.RawMessage, error) {
	req, err := NewRequest(op, params)
	if err != nil {
		return nil, err
	}
	data, err := lb.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if isEmptyPayload(data) {
		return nil, ErrNoResponse
	}
	return data, nil
}

func (lb *Loopback) CommandNoResp(ctx context.Context, op string, params any) error {
	req, err := NewRequest(op, params)
	if err != nil {
		return err
	}
	_, err = lb.Handle(ctx, req)
	return err
}

// Handle executes one decoded request against the in-memory pin bank.
func (lb *Loopback) Handle(ctx context.Context, req Request) (json.RawMessage, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.requests = append(lb.requests, req)
	if DebugFrom(ctx) {
		lb.logger().Info("command", "cmd", req.Cmd, "params", string(req.Params))
	}

	if limit, set := lb.failOps[req.Cmd]; set {
		if limit <= 0 {
			return nil, errors.Wrap(ErrInjected, req.Cmd)
		}
		lb.failOps[req.Cmd] = limit - 1
	}

	switch req.Cmd {
	case OpNvsSet:
		var p NvsParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		lb.nvs = p
		return nil, nil

	case OpNvsGet:
		return json.Marshal(lb.nvs)

	case OpGpioConf:
		var p GpioConfParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Mode != "in" && p.Mode != "out" {
			return nil, errors.Errorf("gpio %d: unsupported mode %q", p.GpioNum, p.Mode)
		}
		pin := lb.pin(p.GpioNum)
		pin.mode = p.Mode
		pin.pullUp = p.PullUpEn
		pin.pullDown = p.PullDownEn
		lb.setLevel(p.GpioNum, pin, p.Istate)
		return nil, nil

	case OpGpioSet:
		var p GpioSetParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		lb.setLevel(p.GpioNum, lb.pin(p.GpioNum), p.Active)
		return nil, nil

	case OpGpioGet:
		var p GpioGetParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		// unconfigured pins read low and stay unknown
		state := GpioState{GpioNum: p.GpioNum}
		if pin, ok := lb.pins[p.GpioNum]; ok {
			state.Active = pin.level
		}
		return json.Marshal(state)

	case OpGpioGetAll:
		states := []GpioState{}
		for num, pin := range lb.pins {
			if pin.mode == "in" {
				states = append(states, GpioState{GpioNum: num, Active: pin.level})
			}
		}
		sort.Slice(states, func(i, j int) bool { return states[i].GpioNum < states[j].GpioNum })
		return json.Marshal(states)
	}

	return nil, errors.Errorf("unknown command %q", req.Cmd)
}

func (lb *Loopback) pin(gpioNum uint16) *loopbackPin {
	pin, ok := lb.pins[gpioNum]
	if !ok {
		pin = &loopbackPin{}
		lb.pins[gpioNum] = pin
	}
	return pin
}

func (lb *Loopback) setLevel(gpioNum uint16, pin *loopbackPin, level bool) {
	if lb.writeStateChange && level != pin.level {
		fmt.Fprintf(lb.writeTo, "[gpio %d] level changed to %v\n", gpioNum, level)
	}
	pin.level = level
}

func (lb *Loopback) logger() *log.Logger {
	if lb.Logger == nil {
		lb.Logger = newLogger("loopback: ")
	}
	return lb.Logger
}

func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return errors.Errorf("%s: missing params", req.Cmd)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return errors.Wrapf(err, "%s: malformed params", req.Cmd)
	}
	return nil
}
