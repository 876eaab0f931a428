package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const httpTransportName = "http"
const httpClientTimeout = 2 * time.Second

// TokenHeader carries the shared secret between the HTTP transport and the
// fixture simulator.
const TokenHeader = "fixture-token"

// HTTP posts each command as a JSON envelope to {Host}/command/{op}.
type HTTP struct {
	Host    string
	Token   string
	Timeout time.Duration
	Logger  *log.Logger

	baseUrl *url.URL
	client  *http.Client
}

func NewHTTP(cfg Config) (*HTTP, error) {
	h := &HTTP{
		Host:    cfg.Host,
		Token:   cfg.Token,
		Timeout: cfg.timeout(httpClientTimeout),
	}
	if err := h.init(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HTTP) init() (err error) {
	h.baseUrl, err = url.Parse(h.Host)
	if err != nil {
		return errors.Wrap(err, "http transport failed to parse Host url")
	}
	if len(h.baseUrl.Scheme) == 0 || len(h.baseUrl.Host) == 0 {
		return errors.Errorf("http transport: Host %q is not an absolute url", h.Host)
	}
	h.client = &http.Client{Timeout: h.Timeout}
	return nil
}

func (h *HTTP) String() string {
	return httpTransportName
}

func (h *HTTP) Close() error {
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	return nil
}

func (h *HTTP) Command(ctx context.Context, op string, params any) (json.RawMessage, error) {
	data, err := h.roundTrip(ctx, op, params)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoResponse
	}
	return data, nil
}

func (h *HTTP) CommandNoResp(ctx context.Context, op string, params any) error {
	_, err := h.roundTrip(ctx, op, params)
	return err
}

func (h *HTTP) roundTrip(ctx context.Context, op string, params any) (json.RawMessage, error) {
	if h.client == nil {
		if err := h.init(); err != nil {
			return nil, err
		}
	}

	reqUrl := h.baseUrl.JoinPath("command", op)

	envelope, err := NewRequest(op, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.Wrap(err, "http transport failed to encode request")
	}

	if DebugFrom(ctx) {
		h.logger().Info("request", "url", reqUrl.String(), "body", string(body))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqUrl.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "http transport error preparing request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add(TokenHeader, h.Token)

	response, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "http transport: %s request failed", op)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return nil, errors.Errorf("http transport: %s failed (response code: %d)", op, response.StatusCode)
	}

	resp := &Response{}
	err = json.NewDecoder(response.Body).Decode(resp)
	if err != nil {
		return nil, errors.Wrapf(err, "http transport: decoding %s response failed", op)
	}

	if DebugFrom(ctx) {
		h.logger().Info("response", "cmd", op, "ok", resp.Ok, "data", string(resp.Data), "error", resp.Error)
	}

	return resp.result(op)
}

func (h *HTTP) logger() *log.Logger {
	if h.Logger == nil {
		h.Logger = newLogger("http transport: ")
	}
	return h.Logger
}
