package transport

import (
	"encoding/json"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Command vocabulary understood by the fixture controller.
const (
	OpNvsSet     = "nvs-set"
	OpNvsGet     = "nvs-get"
	OpGpioConf   = "gpio-conf"
	OpGpioSet    = "gpio-set"
	OpGpioGet    = "gpio-get"
	OpGpioGetAll = "gpio-get-all"
)

// NvsParams holds the identifiers persisted by the fixture. TtySn is left out
// of the payload when the board carries no FTDI module.
type NvsParams struct {
	UnitSn string `json:"unit_sn"`
	TtySn  string `json:"tty_sn,omitempty"`
}

type GpioConfParams struct {
	GpioNum    uint16 `json:"gpio_num"`
	Mode       string `json:"mode"`
	Istate     bool   `json:"istate"`
	PullUpEn   bool   `json:"pull_up_en"`
	PullDownEn bool   `json:"pull_down_en"`
}

type GpioSetParams struct {
	GpioNum uint16 `json:"gpio_num"`
	Active  bool   `json:"active"`
}

type GpioGetParams struct {
	GpioNum uint16 `json:"gpio_num"`
}

// GpioState is the electrical level of one pin, as returned by gpio-get and
// as an element of the gpio-get-all list.
type GpioState struct {
	GpioNum uint16 `json:"gpio_num"`
	Active  bool   `json:"active"`
}

// Request is the envelope written to line and http transports. Id is set by
// transports sharing one stream so a reply can be matched to its request.
type Request struct {
	Id     uint32          `json:"id,omitempty"`
	Cmd    string          `json:"cmd"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope the fixture answers with. Id echoes the request id,
// zero when the request carried none.
type Response struct {
	Id    uint32          `json:"id,omitempty"`
	Ok    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func NewRequest(op string, params any) (Request, error) {
	req := Request{Cmd: op}
	if params == nil {
		return req, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return req, errors.Wrapf(err, "failed to encode %s params", op)
	}
	req.Params = raw
	return req, nil
}

func (r *Response) result(op string) (json.RawMessage, error) {
	if !r.Ok {
		if len(r.Error) == 0 {
			return nil, errors.Errorf("%s rejected by fixture", op)
		}
		return nil, errors.Errorf("%s rejected by fixture: %s", op, r.Error)
	}
	if isEmptyPayload(r.Data) {
		return nil, nil
	}
	return r.Data, nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func newLogger(prefix string) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: prefix,
		Level:  log.GetLevel(),
	})
}
