// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xg2g-player/internal/api"
	"github.com/ManuGH/xg2g-player/internal/config"
	"github.com/ManuGH/xg2g-player/internal/health"
	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media/synthetic"
	"github.com/ManuGH/xg2g-player/internal/playback/session"
	"github.com/ManuGH/xg2g-player/internal/resume"
	"github.com/ManuGH/xg2g-player/internal/telemetry"
	xgtls "github.com/ManuGH/xg2g-player/internal/tls"
	"github.com/ManuGH/xg2g-player/internal/version"
)

const shutdownTimeout = 5 * time.Second

// run parses args, wires the player and blocks until playback ends or ctx is
// cancelled.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("xg2g-player", flag.ContinueOnError)
	fs.SetOutput(stdout)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	interactive := fs.Bool("interactive", false, "read playback commands from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return nil
	}

	// A positional input overrides file and environment, also across reloads.
	if in := strings.TrimSpace(fs.Arg(0)); in != "" {
		if err := os.Setenv(config.EnvPrefix+"INPUT", in); err != nil {
			return fmt.Errorf("set input: %w", err)
		}
	}

	xglog.Configure(xglog.Config{Level: "info", Version: version.Version})
	logger := xglog.WithComponent("player")

	loader := config.NewLoader(strings.TrimSpace(*configPath), version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	xglog.Configure(xglog.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: cfg.Version})
	logger = xglog.WithComponent("player")
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str(xglog.FieldInput, cfg.Input).
		Str("config_path", *configPath).
		Msg("configuration loaded")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	var store resume.Store
	if cfg.Resume.Enabled {
		store, err = resume.NewStore(cfg.Resume.Backend, cfg.Resume.Path)
		if err != nil {
			return fmt.Errorf("open resume store: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	demux, err := synthetic.Open(cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	s, err := session.New(session.OptionsFromConfig(cfg), session.Deps{
		Demuxer:   demux,
		Decoders:  synthetic.Decoders{},
		Renderer:  &synthetic.Renderer{Keep: 1},
		AudioSink: &synthetic.ClockSink{},
		Resume:    store,
	})
	if err != nil {
		_ = demux.Close()
		return err
	}
	defer s.Close()

	var srv *api.Server
	if cfg.API.Listen != "" {
		apiCfg, err := apiConfig(cfg, strings.TrimSpace(*configPath))
		if err != nil {
			return err
		}
		if c, ok := store.(interface{ Check(context.Context) error }); ok {
			apiCfg.Checkers = append(apiCfg.Checkers, health.NewFuncChecker("resume_store", c.Check))
		}
		srv = api.New(apiCfg, s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(runCtx); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_failed").Msg("config hot reload unavailable")
	}
	defer holder.Wait()
	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		// Playback ending stops the auxiliary goroutines too.
		defer cancel()
		return s.Run(egCtx)
	})
	eg.Go(func() error {
		applyReloads(egCtx, s, updates)
		return nil
	})
	if srv != nil {
		eg.Go(func() error { return srv.ListenAndServe(egCtx) })
	}
	if *interactive {
		eg.Go(func() error {
			return runCommands(egCtx, s, lines(stdin), stdout, cfg.Playback.SeekInterval, cancel)
		})
	}

	err = eg.Wait()
	logger.Info().Str(xglog.FieldEvent, "player.stopped").Interface("snapshot", s.Snapshot()).Msg("playback stopped")
	return err
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Log.Service + "-api"
}

// volumeSetter is the part of a session a config reload may change.
type volumeSetter interface {
	SetVolume(percent int) error
}

// applyReloads applies the reloadable options until ctx is done.
func applyReloads(ctx context.Context, s volumeSetter, updates <-chan config.AppConfig) {
	logger := xglog.WithComponent("player")
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			xglog.Configure(xglog.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: cfg.Version})
			if err := s.SetVolume(cfg.Playback.Volume); err != nil {
				logger.Warn().Err(err).Msg("failed to apply reloaded volume")
			}
		}
	}
}

// apiConfig builds the API server configuration, provisioning a self-signed
// certificate when requested.
func apiConfig(cfg config.AppConfig, configPath string) (api.Config, error) {
	out := api.Config{
		Listen:         cfg.API.Listen,
		RateLimit:      cfg.API.RateLimit,
		TracingService: tracingService(cfg),
		Version:        version.Version,
		ConfigFile:     configPath,
		TLSCert:        cfg.API.TLSCert,
		TLSKey:         cfg.API.TLSKey,
	}
	if cfg.API.TLSSelfSigned {
		host, _, _ := net.SplitHostPort(cfg.API.Listen)
		cert, key, err := xgtls.EnsureCertificates(xgtls.Config{
			CertPath: cfg.API.TLSCert,
			KeyPath:  cfg.API.TLSKey,
			Hosts:    []string{host},
			Logger:   xglog.WithComponent("tls"),
		})
		if err != nil {
			return out, fmt.Errorf("provision API certificate: %w", err)
		}
		out.TLSCert, out.TLSKey = cert, key
	}
	return out, nil
}
