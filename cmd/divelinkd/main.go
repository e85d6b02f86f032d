package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/divelink/internal/observability"
	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

var version = "dev"

// program adapts the daemon to the OS service manager.
type program struct {
	cfg    daemonConfig
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	d, err := newDaemon(p.cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- d.run(ctx)
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	if err := <-p.done; err != nil {
		log.Error().Err(err).Msg("divelinkd: stopped with error")
		return err
	}
	return nil
}

func main() {
	configPath := flag.String("config", "cmd/divelinkd/config.toml", "daemon config path")
	flag.Parse()

	if flag.Arg(0) == "version" {
		fmt.Printf("divelinkd %s\n", version)
		return
	}

	observability.InitLogger("divelinkd")
	observability.RegisterMetrics()

	cfg := defaultDaemonConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := loadDaemonConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("divelinkd: config")
		}
		cfg = loaded
	} else {
		log.Warn().Str("path", *configPath).Msg("divelinkd: config not found, using defaults")
	}

	absConfig, err := filepath.Abs(*configPath)
	if err != nil {
		absConfig = *configPath
	}
	svc, err := service.New(&program{cfg: cfg}, &service.Config{
		Name:        cfg.Name,
		DisplayName: "divelink daemon",
		Description: "Serves a dive computer endpoint over TCP or serial",
		Arguments:   []string{"-config", absConfig},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("divelinkd: service")
	}

	if action := flag.Arg(0); action != "" {
		if err := service.Control(svc, action); err != nil {
			log.Fatal().Err(err).Str("action", action).Msg("divelinkd: service control")
		}
		log.Info().Str("action", action).Msg("divelinkd: service control done")
		return
	}

	if err := svc.Run(); err != nil {
		log.Fatal().Err(err).Msg("divelinkd: run")
	}
}
