package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio/transport"
)

const httpTimeoutsMs = 3000

// Fixture serves the command API of a fixture controller over HTTP, backed by
// an in-memory loopback pin bank.
type Fixture struct {
	Token    string
	HttpAddr string
	Debug    bool

	bank   *transport.Loopback
	server *http.Server
	logger *log.Logger

	serverErr chan error
}

func NewFixture(token string, bank *transport.Loopback) *Fixture {
	if bank == nil {
		bank = transport.NewLoopback()
	}
	return &Fixture{
		Token: token,
		bank:  bank,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "fixturesim: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (fx *Fixture) Bank() *transport.Loopback {
	return fx.bank
}

func (fx *Fixture) Handler() http.Handler {
	handler := httprouter.New()
	handler.POST("/command/:op", fx.handleCommand)
	handler.GET("/pins/:gpio_num", fx.handlePin)
	return handler
}

// Start listens on HttpAddr in the background; Err reports when it stops.
func (fx *Fixture) Start() {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	fx.server = &http.Server{
		Addr:              fx.HttpAddr,
		Handler:           fx.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	fx.serverErr = make(chan error, 1)
	go func() {
		fx.serverErr <- fx.server.ListenAndServe()
	}()
}

func (fx *Fixture) Err() <-chan error {
	return fx.serverErr
}

func (fx *Fixture) Shutdown(ctx context.Context) error {
	if fx.server == nil {
		return nil
	}
	return fx.server.Shutdown(ctx)
}

func (fx *Fixture) authorized(r *http.Request) bool {
	return len(fx.Token) == 0 || strings.EqualFold(r.Header.Get(transport.TokenHeader), fx.Token)
}

func (fx *Fixture) handleCommand(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !fx.authorized(r) {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return
	}

	req := transport.Request{}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if len(req.Cmd) == 0 {
		req.Cmd = p.ByName("op")
	}
	if req.Cmd != p.ByName("op") {
		http.Error(w, "command mismatch", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if fx.Debug {
		ctx = transport.WithDebug(ctx)
	}

	resp := transport.Response{Id: req.Id, Ok: true}
	data, err := fx.bank.Handle(ctx, req)
	if err != nil {
		fx.logger.Warn("command rejected", "cmd", req.Cmd, "err", err)
		resp = transport.Response{Id: req.Id, Ok: false, Error: err.Error()}
	} else {
		resp.Data = data
	}

	writeJson(w, resp)
}

func (fx *Fixture) handlePin(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !fx.authorized(r) {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return
	}

	var num uint16
	err := json.Unmarshal([]byte(p.ByName("gpio_num")), &num)
	if err != nil {
		http.Error(w, errors.Wrap(err, "bad gpio number").Error(), http.StatusBadRequest)
		return
	}

	level, known := fx.bank.Level(num)
	if !known {
		http.Error(w, "pin not found", http.StatusNotFound)
		return
	}

	writeJson(w, transport.GpioState{GpioNum: num, Active: level})
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
