package fixtureio

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio/transport"
)

// BoardConfig holds the serial numbers stored on the fixture controller.
type BoardConfig = transport.NvsParams

// PinState is the raw level of one pin reported by GpioPinGetAll.
type PinState = transport.GpioState

// BoardControl drives the pins of one fixture board by name.
type BoardControl struct {
	// Logger receives diagnostics; a stderr logger is used when nil.
	Logger *log.Logger
	// Debug traces every command on the transport.
	Debug     bool
	Observers []PinObserver

	cmd     transport.Commander
	gpioMap GpioMap
}

func NewBoardControl(cmd transport.Commander, gpioMap GpioMap) *BoardControl {
	bc := &BoardControl{
		cmd:     cmd,
		gpioMap: gpioMap,
	}
	for _, name := range gpioMap.Duplicates() {
		bc.logger().Warn("duplicate gpio name, first entry wins", "name", name)
	}
	return bc
}

func (bc *BoardControl) String() string {
	return "board control (" + bc.cmd.String() + ")"
}

// Close releases the transport.
func (bc *BoardControl) Close() error {
	return bc.cmd.Close()
}

func (bc *BoardControl) Pins() []PinDescriptor {
	return bc.gpioMap.Pins()
}

// Initialize configures every pin of the map in its inactive state. It stops
// at the first pin that fails; pins configured before it are left as they are.
func (bc *BoardControl) Initialize(ctx context.Context) error {
	for _, pin := range bc.gpioMap.pins {
		err := bc.GpioPinConf(ctx, pin.GpioNum, string(pin.Dir), pin.InactiveLevel(), false, false)
		if err != nil {
			bc.logger().Error("failed to configure GPIO", "gpio", pin.GpioNum, "name", pin.Name, "err", err)
			return errors.Wrapf(err, "initialize stopped at %s", pin.Name)
		}
	}
	return nil
}

// ConfigSet stores the board serial numbers. Leave TtySn empty on boards
// without an FTDI module.
func (bc *BoardControl) ConfigSet(ctx context.Context, cfg BoardConfig) error {
	return bc.commandNoResp(ctx, transport.OpNvsSet, cfg)
}

// ConfigGet returns the serial numbers stored on the fixture. Use
// ConfigRecord for the complete stored record.
func (bc *BoardControl) ConfigGet(ctx context.Context) (*BoardConfig, error) {
	cfg := &BoardConfig{}
	if err := bc.command(ctx, transport.OpNvsGet, nil, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigRecord returns every key the fixture keeps in its store, raw values
// included, for firmware that stores more than the serial numbers.
func (bc *BoardControl) ConfigRecord(ctx context.Context) (map[string]json.RawMessage, error) {
	record := map[string]json.RawMessage{}
	if err := bc.command(ctx, transport.OpNvsGet, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

//
// raw primitives, no name resolution or polarity
//

func (bc *BoardControl) GpioPinConf(ctx context.Context, gpioNum uint16, mode string, istate, pullUpEn, pullDownEn bool) error {
	return bc.commandNoResp(ctx, transport.OpGpioConf, transport.GpioConfParams{
		GpioNum:    gpioNum,
		Mode:       mode,
		Istate:     istate,
		PullUpEn:   pullUpEn,
		PullDownEn: pullDownEn,
	})
}

func (bc *BoardControl) GpioPinSet(ctx context.Context, gpioNum uint16, active bool) error {
	return bc.commandNoResp(ctx, transport.OpGpioSet, transport.GpioSetParams{GpioNum: gpioNum, Active: active})
}

// reportedState is a pin record as sent by the fixture. Active stays nil when
// the field is missing so it is never read as a low level.
type reportedState struct {
	GpioNum uint16 `json:"gpio_num"`
	Active  *bool  `json:"active"`
}

// GpioPinGet returns the electrical level of a pin.
func (bc *BoardControl) GpioPinGet(ctx context.Context, gpioNum uint16) (bool, error) {
	state := reportedState{}
	err := bc.command(ctx, transport.OpGpioGet, transport.GpioGetParams{GpioNum: gpioNum}, &state)
	if err != nil {
		return false, err
	}
	if state.Active == nil {
		bc.logger().Error("response without level", "cmd", transport.OpGpioGet, "gpio", gpioNum)
		return false, &TransportError{Op: transport.OpGpioGet, Err: errors.Errorf("gpio %d: missing active", gpioNum)}
	}
	return *state.Active, nil
}

// GpioPinGetAll returns the electrical level of every input pin.
func (bc *BoardControl) GpioPinGetAll(ctx context.Context) ([]PinState, error) {
	reported := []reportedState{}
	if err := bc.command(ctx, transport.OpGpioGetAll, nil, &reported); err != nil {
		return nil, err
	}

	states := make([]PinState, 0, len(reported))
	for _, st := range reported {
		if st.Active == nil {
			bc.logger().Error("response without level", "cmd", transport.OpGpioGetAll, "gpio", st.GpioNum)
			return nil, &TransportError{Op: transport.OpGpioGetAll, Err: errors.Errorf("gpio %d: missing active", st.GpioNum)}
		}
		states = append(states, PinState{GpioNum: st.GpioNum, Active: *st.Active})
	}
	return states, nil
}

//
// name based helpers
//

func (bc *BoardControl) Lookup(name string) (PinDescriptor, error) {
	pin, found := bc.gpioMap.Find(name)
	if !found {
		bc.logger().Error("GPIO descriptor not found", "name", name)
		return PinDescriptor{}, errors.Wrapf(ErrPinNotFound, "%q", name)
	}
	return pin, nil
}

// GpioSet drives the named output to its logical state.
func (bc *BoardControl) GpioSet(ctx context.Context, name string, active bool) error {
	pin, err := bc.Lookup(name)
	if err != nil {
		return err
	}
	if pin.Dir != DirOut {
		bc.logger().Error("attempting output on pin configured as input", "name", name)
		return errors.Wrapf(ErrDirectionMismatch, "%q is an input", name)
	}

	level := pin.ElectricalLevel(active)
	if err := bc.GpioPinSet(ctx, pin.GpioNum, level); err != nil {
		return err
	}

	bc.notify(ctx, pin, active, level)
	return nil
}

// GpioGet reads the logical state of the named input. A failed read is
// returned as an error, never as a state.
func (bc *BoardControl) GpioGet(ctx context.Context, name string) (bool, error) {
	pin, err := bc.Lookup(name)
	if err != nil {
		return false, err
	}
	if pin.Dir != DirIn {
		bc.logger().Error("attempting input on pin configured as output", "name", name)
		return false, errors.Wrapf(ErrDirectionMismatch, "%q is an output", name)
	}

	level, err := bc.GpioPinGet(ctx, pin.GpioNum)
	if err != nil {
		return false, err
	}

	active := pin.LogicalState(level)
	bc.notify(ctx, pin, active, level)
	return active, nil
}

// InputStates reads all inputs with a single gpio-get-all and returns the
// logical state of every input pin of the map found in the reply.
func (bc *BoardControl) InputStates(ctx context.Context) (map[string]bool, error) {
	states, err := bc.GpioPinGetAll(ctx)
	if err != nil {
		return nil, err
	}

	levels := make(map[uint16]bool, len(states))
	for _, st := range states {
		levels[st.GpioNum] = st.Active
	}

	out := make(map[string]bool)
	for _, pin := range bc.gpioMap.pins {
		if pin.Dir != DirIn {
			continue
		}
		if _, dup := out[pin.Name]; dup {
			continue
		}
		level, found := levels[pin.GpioNum]
		if !found {
			bc.logger().Warn("input missing from gpio-get-all reply", "name", pin.Name, "gpio", pin.GpioNum)
			continue
		}
		out[pin.Name] = pin.LogicalState(level)
	}
	return out, nil
}

func (bc *BoardControl) notify(ctx context.Context, pin PinDescriptor, active, level bool) {
	if len(bc.Observers) == 0 {
		return
	}
	ev := PinEvent{
		Name:    pin.Name,
		GpioNum: pin.GpioNum,
		Dir:     pin.Dir,
		Active:  active,
		Level:   level,
		At:      time.Now(),
	}
	for _, obs := range bc.Observers {
		if err := obs.ObservePin(ctx, ev); err != nil {
			bc.logger().Warn("pin observer failed", "name", pin.Name, "err", err)
		}
	}
}

func (bc *BoardControl) ctx(ctx context.Context) context.Context {
	if bc.Debug {
		return transport.WithDebug(ctx)
	}
	return ctx
}

func (bc *BoardControl) commandNoResp(ctx context.Context, op string, params any) error {
	err := bc.cmd.CommandNoResp(bc.ctx(ctx), op, params)
	if err != nil {
		bc.logger().Error("command failed", "cmd", op, "err", err)
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (bc *BoardControl) command(ctx context.Context, op string, params any, v any) error {
	raw, err := bc.cmd.Command(bc.ctx(ctx), op, params)
	if err != nil {
		bc.logger().Error("command failed", "cmd", op, "err", err)
		return &TransportError{Op: op, Err: err}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		bc.logger().Error("malformed response", "cmd", op, "err", err)
		return &TransportError{Op: op, Err: errors.Wrap(err, "malformed response")}
	}
	return nil
}

func (bc *BoardControl) logger() *log.Logger {
	if bc.Logger == nil {
		bc.Logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "BoardControl: ",
			Level:  log.GetLevel(),
		})
	}
	return bc.Logger
}
