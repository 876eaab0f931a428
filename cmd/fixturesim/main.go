package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/fixtureio/simulator"
	"github.com/hubertat/fixtureio/transport"
)

var (
	Version string

	addr        = flag.String("addr", ":8650", "listen address")
	token       = flag.String("token", "", "token expected in the "+transport.TokenHeader+" header (empty disables the check)")
	debug       = flag.Bool("debug", false, "log every command")
	flagInstall = flag.Bool("install", false, "Install service in os")

	simService = servicemaker.ServiceMaker{
		User:               "fixturesim",
		UserGroups:         []string{},
		ServicePath:        "/etc/systemd/system/fixturesim.service",
		ServiceDescription: "fixturesim: in-memory fixture controller answering the fixtureio command API",
		ExecDir:            "/srv/fixturesim",
		ExecName:           "fixturesim",
	}
)

func main() {
	flag.Parse()
	log.Info("fixturesim started", "version", Version)

	if *flagInstall {
		err := simService.InstallService()
		if err != nil {
			log.Fatal("failed to install service", "err", err)
		}
		log.Info("service installed!")
		return
	}

	fx := simulator.NewFixture(*token, nil)
	fx.HttpAddr = *addr
	fx.Debug = *debug
	fx.Bank().MonitorStateChanges(os.Stdout)
	fx.Start()
	log.Info("listening", "addr", *addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-fx.Err():
		log.Fatal("server stopped", "err", err)
	case <-sig:
		signal.Stop(sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
}
