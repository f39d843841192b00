package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/pkg/api"
	"github.com/ledgerscope/ledgerscope/pkg/buffer"
	"github.com/ledgerscope/ledgerscope/pkg/cache"
	"github.com/ledgerscope/ledgerscope/pkg/config"
	"github.com/ledgerscope/ledgerscope/pkg/dispatch"
	"github.com/ledgerscope/ledgerscope/pkg/log"
	"github.com/ledgerscope/ledgerscope/pkg/notify"
	"github.com/ledgerscope/ledgerscope/pkg/storage"
	"github.com/ledgerscope/ledgerscope/pkg/syncer"
	"github.com/ledgerscope/ledgerscope/pkg/transport"
)

// SyncCommand creates the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the sync daemon: keep the push channel alive and the local state fresh",
		Action: func(ctx context.Context, c *cli.Command) error {
			return runSync(ctx, c.String("config"))
		},
	}
}

// session is everything one authenticated connection lifetime owns: the
// transport, the caches, the buffers, the toast hub, and the syncer
// driving them. Rebuilt from scratch on config reload.
type session struct {
	conn   *transport.Conn
	hub    *notify.Hub
	syncer *syncer.Syncer
}

func buildSession(cfg *config.Config, store *storage.Store) *session {
	// The token is read per request so one stored after the daemon
	// started is picked up without a reload.
	client := api.NewClientWithTokenSource(cfg.ServerURL, store.Token)

	caches := cache.NewStore()
	caches.Register(cache.KeyChain, func(ctx context.Context) (any, error) {
		return client.GetChainSummary(ctx)
	})
	caches.Register(cache.KeyCollections, func(ctx context.Context) (any, error) {
		return client.GetCollections(ctx)
	})
	caches.Register(cache.KeyPeers, func(ctx context.Context) (any, error) {
		return client.GetPeers(ctx)
	})
	caches.Register(cache.KeyMetrics, func(ctx context.Context) (any, error) {
		return client.GetMetrics(ctx)
	})
	caches.Register(cache.KeyAuditLogs, func(ctx context.Context) (any, error) {
		return client.GetAuditLogs(ctx, 1, 50)
	})

	activity := buffer.NewActivityLog(store)
	audit := buffer.NewAuditStream(store)
	hub := notify.NewHub(16)
	dispatcher := dispatch.New(caches, activity, audit, hub)

	conn := transport.New(cfg.ServerURL)
	s := syncer.New(conn, store, dispatcher, syncer.Config{
		InitialBackoff:   cfg.InitialBackoff.Duration,
		MaxBackoff:       cfg.MaxBackoff.Duration,
		StableResetAfter: cfg.StableResetAfter.Duration,
	})

	return &session{conn: conn, hub: hub, syncer: s}
}

// runSync runs the daemon until interrupted. SIGHUP or a config file
// change tears the session down and rebuilds it from the new config.
func runSync(ctx context.Context, configPath string) error {
	logger := log.ForComponent("sync")

	cfg, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Optimize(); err != nil {
			logger.Debugf("optimizing state database: %v", err)
		}
		if err := store.Close(); err != nil {
			logger.Warnf("Closing state database: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Creating config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("Closing config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("Watching config file %s: %v", configPath, err)
		} else {
			logger.Infof("Watching config file for changes: %s", configPath)
			watchEvents = watcher.Events
			watchErrors = watcher.Errors
		}
	}

	for {
		sess := buildSession(cfg, store)
		sessCtx, cancel := context.WithCancel(ctx)

		errCh := make(chan error, 1)
		go func() { errCh <- sess.syncer.Run(sessCtx) }()

		toastID, toasts := sess.hub.Register()
		go func() {
			for toast := range toasts {
				logger.Infof("[%s] %s", toast.Topic, toast.Message)
			}
		}()

		stop := func() {
			cancel()
			<-errCh
			sess.hub.Unregister(toastID)
		}

		reload := false
		for !reload {
			select {
			case err := <-errCh:
				cancel()
				sess.hub.Unregister(toastID)
				if errors.Is(err, syncer.ErrNoToken) {
					return fmt.Errorf("no session token stored; run \"ledgerscope token set <token>\" first")
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err

			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					logger.Infof("Received SIGHUP, reloading configuration")
					reload = true
				default:
					fmt.Println("\nShutting down...")
					stop()
					return nil
				}

			case event, ok := <-watchEvents:
				if !ok {
					watchEvents = nil
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				logger.Infof("Config file changed (%s), reloading", event.Op)
				// Editors often replace the file atomically; give the new
				// file time to land and re-watch it.
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						logger.Warnf("Config file removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						logger.Warnf("Re-watching config file: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}
				reload = true

			case err, ok := <-watchErrors:
				if !ok {
					watchErrors = nil
					continue
				}
				logger.Warnf("Config file watcher error: %v", err)
			}
		}

		stop()

		newCfg, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Warnf("Reloading config: %v (keeping previous configuration)", err)
			continue
		}
		if newCfg.StorageDir != cfg.StorageDir {
			newStore, err := storage.NewStore(filepath.Join(newCfg.StorageDir, "state.db"))
			if err != nil {
				logger.Warnf("Opening new state database: %v (keeping previous configuration)", err)
				continue
			}
			if err := store.Close(); err != nil {
				logger.Warnf("Closing previous state database: %v", err)
			}
			store = newStore
		}
		cfg = newCfg
		logger.Infof("Configuration reloaded")
	}
}
