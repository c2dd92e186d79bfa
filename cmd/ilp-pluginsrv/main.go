// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Command ilp-pluginsrv runs one bilateral payment-channel engine as a
// standalone process: it loads a TOML configuration, constructs the
// configured settlement backend and store, and either dials the peer's
// rpc_uri(s) or listens for an inbound connection, then serves until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/coilhq/ilp-plugin-bilateral/backend"
	"github.com/coilhq/ilp-plugin-bilateral/config"
	"github.com/coilhq/ilp-plugin-bilateral/plugin"
	"github.com/coilhq/ilp-plugin-bilateral/rpc"
	"github.com/coilhq/ilp-plugin-bilateral/store"
	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

// disconnectTimeout bounds how long shutdown waits for the backend to
// settle and the HTTP server to shut down before the process exits anyway.
const disconnectTimeout = 10 * time.Second

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintf(os.Stderr, "ilp-pluginsrv: maxprocs: %v\n", err)
	}

	app := &cli.App{
		Name:  "ilp-pluginsrv",
		Usage: "run a bilateral ILP payment-channel engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the TOML configuration file",
				Required: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ilp-pluginsrv: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	path := c.String("config")
	if err := config.MustExist(path); err != nil {
		return err
	}
	file, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}

	logger := buildLogger(file)
	xlog.SetDefault(logger)

	opts, err := file.ToPluginOptions()
	if err != nil {
		return err
	}
	opts.Logger = logger

	opts.Store, err = buildStore(file)
	if err != nil {
		return err
	}
	defer opts.Store.Close()

	opts.Backend, opts.BackendOptions = buildBackend(file)

	engine, err := plugin.New(opts)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if len(opts.RPCURIs) == 0 {
		httpServer = &http.Server{
			Addr:    file.Listen,
			Handler: rpc.NewServer(engine.Dispatcher(), engine.Authorize, logger, engine.AcceptConn).Handler(),
		}
		go func() {
			logger.Info("listening", "addr", file.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server stopped", "err", err)
			}
		}()
	}

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	logger.Info("connected", "prefix", file.Prefix)

	<-ctx.Done()
	logger.Info("shutting down")

	disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := engine.Disconnect(disconnectCtx); err != nil {
		logger.Error("disconnect failed", "err", err)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(disconnectCtx)
	}
	return nil
}

func buildLogger(file config.File) xlog.Logger {
	var handler = xlog.NewTerminalHandler(os.Stderr, false)
	if file.Log.Format == "json" {
		handler = xlog.JSONHandler(os.Stderr)
	}
	return xlog.New(handler)
}

func buildStore(file config.File) (store.Store, error) {
	switch file.Store.Driver {
	case "", "mem":
		return store.NewMemStore(), nil
	case "leveldb":
		if file.Store.Path == "" {
			return nil, fmt.Errorf("config: store.path is required for the leveldb driver")
		}
		return store.OpenLevelDBStore(file.Store.Path)
	default:
		return nil, fmt.Errorf("config: unknown store.driver %q", file.Store.Driver)
	}
}

func buildBackend(file config.File) (backend.Backend, backend.Options) {
	opts := backend.Options(file.BackendOptions)
	switch file.Backend {
	case "claim":
		return &backend.ClaimBackend{}, opts
	default:
		return nil, opts // asymmetric mode: plugin.New installs NoopBackend itself
	}
}
