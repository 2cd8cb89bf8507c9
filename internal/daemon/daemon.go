// Package daemon hosts the sync engine as a long-running process.
//
// The daemon:
// 1. Runs a startup sync
// 2. Triggers syncs on a fixed interval
// 3. Triggers a sync the moment connectivity is regained
// 4. Watches the config file and applies interval changes live
// 5. Optionally serves the status dashboard
// 6. Handles graceful shutdown
//
// All triggers funnel into the engine's single in-flight flag, so
// overlapping timers and connectivity flaps can never run two sync
// attempts at once.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rollcall/rollcall/internal/config"
	"github.com/rollcall/rollcall/internal/dashboard"
	"github.com/rollcall/rollcall/internal/syncer"
)

// SyncRunner is the slice of the engine the daemon drives. Satisfied
// by *syncer.Engine.
type SyncRunner interface {
	TrySync(ctx context.Context, trigger syncer.Trigger) (*syncer.Result, error)
}

// ConnectivitySource delivers online/offline transitions. Satisfied
// by *connectivity.Monitor.
type ConnectivitySource interface {
	Changes() <-chan bool
}

// Config holds daemon configuration.
type Config struct {
	// SyncInterval is how often a periodic sync is triggered.
	SyncInterval time.Duration

	// ConfigPath, when set, is watched for changes; edits to
	// sync_interval take effect without a restart.
	ConfigPath string

	// Dashboard, when non-nil, receives sync lifecycle events and is
	// started/stopped with the daemon.
	Dashboard *dashboard.Server

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic and event-driven sync attempts.
type Daemon struct {
	engine  SyncRunner
	conn    ConnectivitySource
	config  *Config
	logger  *log.Logger
	watcher *fsnotify.Watcher

	intervalCh chan time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. conn may be nil to disable the connectivity
// trigger.
func New(engine SyncRunner, conn ConnectivitySource, cfg *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:     engine,
		conn:       conn,
		config:     cfg,
		logger:     cfg.Logger,
		intervalCh: make(chan time.Duration, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	if d.config.Dashboard != nil {
		if err := d.config.Dashboard.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
	}

	if d.config.ConfigPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
		if err := watcher.Add(d.config.ConfigPath); err != nil {
			d.logger.Printf("Warning: cannot watch config file %s: %v", d.config.ConfigPath, err)
		} else {
			d.wg.Add(1)
			go d.watchConfig()
		}
	}

	// Startup sync; an in-progress or failed attempt is not fatal to
	// the daemon.
	d.runSync(ctx, syncer.TriggerStartup)

	d.wg.Add(1)
	go d.intervalLoop(ctx)

	if d.conn != nil {
		d.wg.Add(1)
		go d.connectivityLoop(ctx)
	}

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the daemon down.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Printf("Error closing config watcher: %v", err)
		}
	}

	d.wg.Wait()

	if d.config.Dashboard != nil {
		if err := d.config.Dashboard.Stop(); err != nil {
			d.logger.Printf("Error stopping dashboard: %v", err)
		}
	}

	d.logger.Println("Daemon stopped")
	return nil
}

// runSync drives one attempt and publishes lifecycle events.
func (d *Daemon) runSync(ctx context.Context, trigger syncer.Trigger) {
	if d.config.Dashboard != nil {
		d.config.Dashboard.SyncStarted(trigger)
	}

	result, err := d.engine.TrySync(ctx, trigger)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		return
	case err != nil:
		d.logger.Printf("Sync failed (%s): %v", trigger, err)
	default:
		d.logger.Printf("Sync ok (%s): %s", trigger, result.Summary())
	}

	if d.config.Dashboard != nil && result != nil {
		d.config.Dashboard.SyncComplete(result)
	}
}

// intervalLoop triggers periodic syncs, rebuilding the ticker when a
// config reload changes the interval.
func (d *Daemon) intervalLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := d.config.SyncInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runSync(ctx, syncer.TriggerInterval)
		case next := <-d.intervalCh:
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				d.logger.Printf("Sync interval changed to %v", interval)
			}
		}
	}
}

// connectivityLoop syncs as soon as the service becomes reachable
// again.
func (d *Daemon) connectivityLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case online, ok := <-d.conn.Changes():
			if !ok {
				return
			}
			if online {
				d.runSync(ctx, syncer.TriggerConnectivity)
			}
		}
	}
}

// watchConfig reloads the config file on change and applies the new
// sync interval.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(d.config.ConfigPath)
			if err != nil {
				d.logger.Printf("Ignoring config reload: %v", err)
				continue
			}
			select {
			case d.intervalCh <- cfg.SyncInterval:
			default:
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Config watcher error: %v", err)
		}
	}
}
