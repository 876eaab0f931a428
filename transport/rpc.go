package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/go-ethereum/rpc"
	"github.com/pkg/errors"
)

const rpcTransportName = "rpc"
const rpcCallTimeout = 2 * time.Second

// RPC sends every command as a JSON-RPC 2.0 call; the op name is the method
// and the params object is its single argument.
type RPC struct {
	Timeout time.Duration
	Logger  *log.Logger

	client *rpc.Client
}

func DialRPC(ctx context.Context, cfg Config) (*RPC, error) {
	if len(cfg.Host) == 0 {
		return nil, errors.New("rpc transport: host not set")
	}

	opts := []rpc.ClientOption{}
	if len(cfg.Token) > 0 {
		opts = append(opts, rpc.WithHeader(TokenHeader, cfg.Token))
	}

	client, err := rpc.DialOptions(ctx, cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rpc Dial")
	}

	return &RPC{
		Timeout: cfg.timeout(rpcCallTimeout),
		client:  client,
	}, nil
}

func (r *RPC) String() string {
	return rpcTransportName
}

func (r *RPC) Close() error {
	r.client.Close()
	return nil
}

func (r *RPC) Command(ctx context.Context, op string, params any) (json.RawMessage, error) {
	var result json.RawMessage
	err := r.call(ctx, &result, op, params)
	if errors.Is(err, rpc.ErrNoResult) {
		return nil, ErrNoResponse
	}
	if err != nil {
		return nil, err
	}
	if isEmptyPayload(result) {
		return nil, ErrNoResponse
	}
	return result, nil
}

func (r *RPC) CommandNoResp(ctx context.Context, op string, params any) error {
	err := r.call(ctx, nil, op, params)
	if errors.Is(err, rpc.ErrNoResult) {
		return nil
	}
	return err
}

func (r *RPC) call(ctx context.Context, result any, op string, params any) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []any{}
	if params != nil {
		args = append(args, params)
	}

	if DebugFrom(ctx) {
		r.logger().Info("call", "method", op, "params", params)
	}

	err := r.client.CallContext(ctx, result, op, args...)
	if err != nil {
		return errors.Wrapf(err, "rpc transport: %s call failed", op)
	}

	if DebugFrom(ctx) {
		if raw, ok := result.(*json.RawMessage); ok {
			r.logger().Info("result", "method", op, "result", string(*raw))
		}
	}
	return nil
}

func (r *RPC) logger() *log.Logger {
	if r.Logger == nil {
		r.Logger = newLogger("rpc transport: ")
	}
	return r.Logger
}
