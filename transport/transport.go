package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNoResponse is returned by Command when the fixture confirmed the request
// but sent no payload back.
var ErrNoResponse = errors.New("no response from fixture")

// Commander is the request/reply channel to the fixture controller.
type Commander interface {
	Command(ctx context.Context, op string, params any) (json.RawMessage, error)
	CommandNoResp(ctx context.Context, op string, params any) error
	Close() error
	String() string
}

type Config struct {
	Kind string `json:"kind"`

	// serial
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMs int    `json:"read_timeout_ms"`

	// http, rpc
	Host      string `json:"host"`
	Token     string `json:"token"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (c Config) timeout(def time.Duration) time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return def
}

// Open builds the Commander selected by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Commander, error) {
	switch strings.ToLower(cfg.Kind) {
	case serialTransportName:
		return OpenSerial(cfg)
	case httpTransportName:
		return NewHTTP(cfg)
	case rpcTransportName:
		return DialRPC(ctx, cfg)
	case loopbackTransportName:
		return NewLoopback(), nil
	}

	return nil, errors.Errorf("unknown transport kind: %q", cfg.Kind)
}

type debugKey struct{}

// WithDebug marks ctx so transports trace every request and reply they handle.
func WithDebug(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugKey{}, true)
}

func DebugFrom(ctx context.Context) bool {
	on, _ := ctx.Value(debugKey{}).(bool)
	return on
}
