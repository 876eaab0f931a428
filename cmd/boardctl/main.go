package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/fixtureio"
	"github.com/hubertat/fixtureio/mqtt"
	"github.com/hubertat/fixtureio/recorder"
)

var (
	Version string

	config  = flag.String("config", "fixture.json", "path of the configuration file")
	debug   = flag.Bool("debug", false, "trace every command sent to the fixture")
	timeout = flag.Duration("timeout", 10*time.Second, "overall timeout of one invocation")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `boardctl %s

usage: boardctl [flags] <command> [args]

commands:
  list                         print the gpio map
  init                         configure every pin in its inactive state
  set NAME on|off              drive a named output
  get NAME                     read a named input
  inputs                       read all named inputs at once
  get-all                      raw levels of all input pins
  config-get                   print stored serial numbers
  config-set UNIT_SN [TTY_SN]  store serial numbers

flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := fixtureio.LoadConfig(*config)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if *debug {
		cfg.Debug = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	board, err := cfg.Open(ctx)
	if err != nil {
		log.Fatal("failed to open board", "err", err)
	}
	defer board.Close()

	closeObservers := attachObservers(ctx, cfg, board)
	defer closeObservers()

	err = run(ctx, board, flag.Args())
	if err != nil {
		log.Error(err.Error(), "kind", fixtureio.KindOf(err))
		os.Exit(1)
	}
}

func attachObservers(ctx context.Context, cfg *fixtureio.Config, board *fixtureio.BoardControl) func() {
	closers := []func(){}

	if cfg.Mqtt != nil && len(cfg.Mqtt.Broker) > 0 {
		clientId := cfg.Mqtt.ClientId
		if len(clientId) == 0 {
			clientId = "boardctl"
		}
		mc, err := mqtt.NewMqttClient(cfg.Mqtt.Broker, clientId)
		if err == nil {
			err = mc.Connect(ctx)
		}
		if err != nil {
			log.Warn("mqtt disabled", "err", err)
		} else {
			board.Observers = append(board.Observers, mqtt.NewPinPublisher(mc, cfg.Mqtt.TopicPrefix))
			closers = append(closers, func() { mc.Disconnect(context.Background()) })
		}
	}

	if cfg.Influx != nil {
		rec := &recorder.InfluxRecorder{
			Host:         cfg.Influx.Host,
			Token:        cfg.Influx.Token,
			Organization: cfg.Influx.Organization,
			Bucket:       cfg.Influx.Bucket,
			Measurement:  cfg.Influx.Measurement,
			Board:        cfg.Name,
		}
		if err := rec.Setup(); err != nil {
			log.Warn("influx recording disabled", "err", err)
		} else {
			board.Observers = append(board.Observers, rec)
			closers = append(closers, func() { rec.Close() })
		}
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "1", "true", "active":
		return true, nil
	case "off", "0", "false", "inactive":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

func run(ctx context.Context, board *fixtureio.BoardControl, args []string) error {
	need := func(n int) error {
		if len(args) < n+1 {
			return fmt.Errorf("%s needs %d argument(s)", args[0], n)
		}
		return nil
	}

	switch args[0] {
	case "list", "init", "set", "get", "inputs":
		if len(board.Pins()) == 0 {
			return fmt.Errorf("%s needs pins, the gpio_map of this config is empty", args[0])
		}
	}

	switch args[0] {
	case "list":
		for _, pin := range board.Pins() {
			fmt.Printf("%-20s gpio %3d  %-3s  active_hi=%v\n", pin.Name, pin.GpioNum, pin.Dir, pin.ActiveHigh)
		}

	case "init":
		if err := board.Initialize(ctx); err != nil {
			return err
		}
		fmt.Println("initialized", len(board.Pins()), "pins")

	case "set":
		if err := need(2); err != nil {
			return err
		}
		active, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		return board.GpioSet(ctx, args[1], active)

	case "get":
		if err := need(1); err != nil {
			return err
		}
		active, err := board.GpioGet(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(args[1], active)

	case "inputs":
		states, err := board.InputStates(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name, states[name])
		}

	case "get-all":
		states, err := board.GpioPinGetAll(ctx)
		if err != nil {
			return err
		}
		for _, st := range states {
			fmt.Printf("gpio %3d  %v\n", st.GpioNum, st.Active)
		}

	case "config-get":
		cfg, err := board.ConfigGet(ctx)
		if err != nil {
			return err
		}
		fmt.Println("unit_sn:", cfg.UnitSn)
		if len(cfg.TtySn) > 0 {
			fmt.Println("tty_sn:", cfg.TtySn)
		}

	case "config-set":
		if err := need(1); err != nil {
			return err
		}
		cfg := fixtureio.BoardConfig{UnitSn: args[1]}
		if len(args) > 2 {
			cfg.TtySn = args[2]
		}
		return board.ConfigSet(ctx, cfg)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	return nil
}
