package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const serialTransportName = "serial"
const defaultSerialBaud = 115200
const defaultSerialReadTimeout = 100 * time.Millisecond
const serialResponseTimeout = 3 * time.Second

// Port is the byte stream to the fixture CPU.
type Port interface {
	io.ReadWriteCloser
}

// Serial speaks newline delimited JSON envelopes over a serial line. The line
// carries one request at a time.
type Serial struct {
	Timeout time.Duration
	Logger  *log.Logger

	port   Port
	reader *bufio.Reader
	lock   sync.Mutex
	lastId uint32
	stale  bool
}

// OpenSerial opens cfg.Device with tarm/serial.
func OpenSerial(cfg Config) (*Serial, error) {
	if len(cfg.Device) == 0 {
		return nil, errors.New("serial transport: device not set")
	}

	baud := cfg.Baud
	if baud == 0 {
		baud = defaultSerialBaud
	}
	readTimeout := defaultSerialReadTimeout
	if cfg.ReadTimeoutMs > 0 {
		readTimeout = time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", cfg.Device)
	}

	s := NewSerial(port)
	s.Timeout = cfg.timeout(serialResponseTimeout)
	return s, nil
}

func NewSerial(port Port) *Serial {
	return &Serial{
		Timeout: serialResponseTimeout,
		port:    port,
		reader:  bufio.NewReader(port),
	}
}

func (s *Serial) String() string {
	return serialTransportName
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) Command(ctx context.Context, op string, params any) (json.RawMessage, error) {
	data, err := s.roundTrip(ctx, op, params)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoResponse
	}
	return data, nil
}

func (s *Serial) CommandNoResp(ctx context.Context, op string, params any) error {
	_, err := s.roundTrip(ctx, op, params)
	return err
}

func (s *Serial) roundTrip(ctx context.Context, op string, params any) (json.RawMessage, error) {
	envelope, err := NewRequest(op, params)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stale {
		s.discardStale(ctx)
	}

	s.lastId++
	if s.lastId == 0 {
		s.lastId++
	}
	envelope.Id = s.lastId

	line, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.Wrap(err, "serial transport failed to encode request")
	}

	if DebugFrom(ctx) {
		s.logger().Info("tx", "line", string(line))
	}

	_, err = s.port.Write(append(line, '\n'))
	if err != nil {
		s.stale = true
		return nil, errors.Wrapf(err, "serial transport: writing %s failed", op)
	}

	resp, err := s.readResponse(ctx, envelope.Id)
	if err != nil {
		s.stale = true
		return nil, errors.Wrapf(err, "serial transport: no reply to %s", op)
	}

	return resp.result(op)
}

// discardStale drops whatever a failed exchange left on the line, so a late
// reply is never taken as the answer to the next request.
func (s *Serial) discardStale(ctx context.Context) {
	s.reader.Reset(s.port)

	deadline := time.Now().Add(s.Timeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(buf)
		if n > 0 && DebugFrom(ctx) {
			s.logger().Info("discarded", "bytes", string(buf[:n]))
		}
		if n == 0 || err != nil {
			break
		}
	}
	s.stale = false
}

// readResponse returns the next JSON line answering request id. Anything else
// the controller prints in between (boot banners, log output) is skipped, as
// are replies carrying another request's id.
func (s *Serial) readResponse(ctx context.Context, id uint32) (*Response, error) {
	deadline := time.Now().Add(s.Timeout)
	var pending []byte

	for {
		chunk, err := s.reader.ReadBytes('\n')
		pending = append(pending, chunk...)

		if err == nil {
			line := bytes.TrimSpace(pending)
			pending = nil

			if len(line) == 0 || line[0] != '{' {
				if len(line) > 0 && DebugFrom(ctx) {
					s.logger().Info("skipped", "line", string(line))
				}
				continue
			}
			if DebugFrom(ctx) {
				s.logger().Info("rx", "line", string(line))
			}

			resp := &Response{}
			if err := json.Unmarshal(line, resp); err != nil {
				return nil, errors.Wrap(err, "malformed response line")
			}
			if resp.Id != 0 && resp.Id != id {
				if DebugFrom(ctx) {
					s.logger().Info("skipped late reply", "id", resp.Id, "want", id)
				}
				continue
			}
			return resp, nil
		}

		if err != io.EOF && !errors.Is(err, io.ErrNoProgress) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, errors.Errorf("timed out after %s", s.Timeout)
		}
	}
}

func (s *Serial) logger() *log.Logger {
	if s.Logger == nil {
		s.Logger = newLogger("serial transport: ")
	}
	return s.Logger
}
