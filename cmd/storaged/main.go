// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// storaged runs the storage-manager runtime as a standalone daemon: it
// loads a YAML configuration, supervises the configured volumes and
// storages, hot-reloads the configuration when the file changes, and
// serves admin queries over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/internal/manager"
	"github.com/keymesh/storaged/session"
)

var logger = loggo.GetLogger("storaged.cmd")

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main parses the command line and runs the daemon. Split from main for
// testing.
func Main(args []string) int {
	flags := gnuflag.NewFlagSetWithFlagKnownAs("storaged", gnuflag.ContinueOnError, "option")
	configPath := flags.String("config", "storaged.yaml", "path to the configuration file")
	adminAddr := flags.String("admin-addr", "localhost:8640", "address of the admin HTTP endpoint")
	name := flags.String("name", "storage-manager", "plugin instance name in the admin space")
	logConfig := flags.String("log-config", "<root>=INFO", "loggo configuration string")
	if err := flags.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := loggo.ConfigureLoggers(*logConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := run(*configPath, *adminAddr, *name); err != nil {
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		return 1
	}
	return 0
}

func run(configPath, adminAddr, name string) error {
	current, err := loadConfig(name, configPath)
	if err != nil {
		return errors.Trace(err)
	}

	hub := session.NewHub()
	mgr, err := manager.New(manager.Config{
		Name:    name,
		Session: hub,
		Clock:   clock.WallClock,
	}, current)
	if err != nil {
		return errors.Annotate(err, "starting storage manager")
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Errorf("shutting down: %v", err)
		}
	}()
	logger.Infof("storage manager up, admin root %s", mgr.StatusKey())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Annotate(err, "watching configuration")
	}
	defer watcher.Close()
	if err := watcher.Add(configPath); err != nil {
		return errors.Annotatef(err, "watching %s", configPath)
	}

	srv := newAdminServer(adminAddr, mgr)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := loadConfig(name, configPath)
			if err != nil {
				// A malformed configuration aborts the whole
				// reconciliation; the previous one stays live.
				logger.Errorf("configuration reload rejected: %v", err)
				continue
			}
			diffs := config.Diffs(current, next)
			if len(diffs) == 0 {
				continue
			}
			logger.Infof("reconciling %d configuration change(s)", len(diffs))
			if err := mgr.Apply(diffs); err != nil {
				logger.Errorf("reconciliation aborted: %v", err)
			}
			// Applied diffs stay applied even on a partial batch, so
			// the new snapshot is the reference either way.
			current = next

		case err := <-watcher.Errors:
			logger.Warningf("configuration watcher: %v", err)

		case err := <-serveErr:
			return errors.Annotate(err, "admin endpoint")

		case sig := <-sigc:
			logger.Infof("received %v, shutting down", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Trace(srv.Shutdown(ctx))
		}
	}
}

func loadConfig(name, path string) (config.Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Plugin{}, errors.Annotate(err, "reading configuration")
	}
	plugin, err := config.Parse(name, data)
	if err != nil {
		return config.Plugin{}, errors.Trace(err)
	}
	return plugin, nil
}
