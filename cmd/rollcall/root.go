package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/config"
	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/secrets"
	"github.com/rollcall/rollcall/internal/store"
	"github.com/rollcall/rollcall/internal/syncer"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Offline-first attendance for teachers",
	Long: `rollcall keeps a local mirror of your attendance data.

Attendance is marked locally and works without a network connection.
A background sync delivers pending records to the attendance service
and refreshes class rosters whenever connectivity allows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default ~/.rollcall/config.yaml)")
	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Synchronization Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "attendance", Title: "Attendance Commands:"})
}

// mustLoadConfig loads configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// env bundles the wired engine components for one command invocation.
type env struct {
	cfg     *config.Config
	secrets *secrets.Store
	store   *store.Store
	remote  *remote.Client
	engine  *syncer.Engine

	// identityID is the identity this invocation operates as.
	identityID string
}

// openEnv wires config, secrets, store, remote client and engine.
// When requireIdentity is set, a missing signed-in identity is fatal.
// Exits on error; the caller must Close.
func openEnv(requireIdentity bool) *env {
	cfg := mustLoadConfig()

	if cfg.ServerURL == "" {
		fmt.Fprintf(os.Stderr, "Error: server_url is required (config file or ROLLCALL_SERVER_URL)\n")
		os.Exit(1)
	}

	sec, err := secrets.Open(cfg.SecretsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening secrets store: %v\n", err)
		os.Exit(1)
	}

	identityID := cfg.IdentityID
	if identityID == "" {
		identityID = sec.Get(secrets.KeyIdentityID)
	}
	if requireIdentity && identityID == "" {
		fmt.Fprintf(os.Stderr, "Error: no signed-in identity; run `rollcall login <identity-id>` first\n")
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath(),
		store.WithMigrationVersion(migrationVersion(sec)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
		os.Exit(1)
	}

	// Record the applied schema version on first run so future builds
	// can detect a downgrade against a newer store.
	if sec.SchemaVersion() == 0 {
		if err := sec.Set(secrets.KeySchemaVersion, strconv.Itoa(store.SchemaVersion)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record schema version: %v\n", err)
		}
	}

	deviceID, err := sec.DeviceID()
	if err != nil {
		_ = st.Close()
		fmt.Fprintf(os.Stderr, "Error reading device id: %v\n", err)
		os.Exit(1)
	}

	rc := remote.New(cfg.ServerURL, tokenFunc(cfg), deviceID, nil)

	engine := syncer.NewEngine(st, rc, syncer.Options{
		IdentityID:      identityID,
		KnownIdentityID: sec.Get(secrets.KeyIdentityID),
		Staleness:       cfg.StalenessWindow,
		BulkThreshold:   cfg.BulkThreshold,
		BackupDir:       cfg.BackupDir(),
		Logger:          log.New(os.Stderr, "[sync] ", log.LstdFlags),
	})

	return &env{
		cfg:        cfg,
		secrets:    sec,
		store:      st,
		remote:     rc,
		engine:     engine,
		identityID: identityID,
	}
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error closing store: %v\n", err)
	}
}

// migrationVersion reads the recorded schema version, defaulting to the
// current build's version for fresh installs.
func migrationVersion(sec *secrets.Store) int {
	if v := sec.SchemaVersion(); v > 0 {
		return v
	}
	return store.SchemaVersion
}

// tokenFunc supplies the bearer token from config or environment.
func tokenFunc(cfg *config.Config) remote.TokenFunc {
	return func(ctx context.Context) (string, error) {
		if cfg.Token == "" {
			return "", fmt.Errorf("no token configured; set ROLLCALL_TOKEN or token in the config file")
		}
		return cfg.Token, nil
	}
}
