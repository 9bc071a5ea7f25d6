// Command gatewaysim runs the local gateway stand-in: the admin API on one
// address and the data plane on another.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/gatewayctl/internal/config"
	"github.com/nulzo/gatewayctl/internal/platform/logger"
	"github.com/nulzo/gatewayctl/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to gatewayctl.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gatewaysim:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(nil, configPath)
	if err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	log := logger.Initialize(logCfg)
	defer logger.Sync()

	if cfg.Simulator.AdminKey == "" {
		return errors.New("simulator admin key is empty; set APISIX_ADMIN_KEY or simulator.admin_key")
	}

	sim := server.New(cfg.Simulator.Config, log)

	servers := []*http.Server{
		{Addr: cfg.Simulator.AdminAddr, Handler: sim.AdminHandler(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: cfg.Simulator.ProxyAddr, Handler: sim.ProxyHandler(), ReadHeaderTimeout: 10 * time.Second},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("Listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
