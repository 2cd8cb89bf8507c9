package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/secrets"
	"github.com/rollcall/rollcall/internal/syncer"
	"github.com/rollcall/rollcall/internal/ui"
)

var (
	loginDiscard bool
	loginKeep    bool
)

var loginCmd = &cobra.Command{
	Use:   "login <identity-id>",
	Short: "Sign in and load your data onto this device",
	Long: `Sign in as a teacher identity.

If this device already holds another identity's local data, you choose
between discarding it (a JSONL snapshot is written first, then your
data is reloaded from the server) or keeping it as-is. Keeping it means
any unsynced records stay attributed to the previous account.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(false)
		defer e.Close()
		ctx := cmd.Context()
		incoming := args[0]

		if loginDiscard && loginKeep {
			fmt.Fprintf(os.Stderr, "Error: --discard-local and --keep-local are mutually exclusive\n")
			os.Exit(1)
		}

		resolver := e.engine.Resolver()
		conflict, err := resolver.CheckConflict(ctx, incoming)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking local data: %v\n", err)
			os.Exit(1)
		}

		if conflict != nil {
			discard, err := chooseResolution(conflict)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if discard {
				fmt.Printf("%s Discarding local data owned by %s...\n", ui.RenderWarn("⚠"), conflict.ExistingLabel)
				if err := resolver.DiscardAndReload(ctx, incoming); err != nil {
					fmt.Fprintf(os.Stderr, "Error reloading data: %v\n", err)
					os.Exit(1)
				}
			} else {
				if err := resolver.KeepExisting(ctx, incoming); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("%s Keeping existing local data; unsynced records stay attributed to %s\n",
					ui.RenderWarn("⚠"), conflict.ExistingLabel)
			}
		}

		label := incoming
		if identity, err := e.store.GetIdentity(ctx, incoming); err == nil {
			label = identity.DisplayName
		}
		if err := e.secrets.Set(secrets.KeyIdentityID, incoming); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording identity: %v\n", err)
			os.Exit(1)
		}
		if err := e.secrets.Set(secrets.KeyIdentityLabel, label); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording identity label: %v\n", err)
			os.Exit(1)
		}

		// Initial sync under the new identity; offline sign-in is fine,
		// the daemon catches up later.
		engine := syncer.NewEngine(e.store, e.remote, syncer.Options{
			IdentityID:      incoming,
			KnownIdentityID: incoming,
			Staleness:       e.cfg.StalenessWindow,
			BulkThreshold:   e.cfg.BulkThreshold,
			BackupDir:       e.cfg.BackupDir(),
			Logger:          log.New(os.Stderr, "[sync] ", log.LstdFlags),
		})
		if result, err := engine.ForceSync(ctx); err != nil {
			// Engine errors are flattened for display; match on the
			// network sentinel's message.
			if strings.Contains(err.Error(), remote.ErrNetworkUnavailable.Error()) {
				fmt.Printf("%s Signed in as %s (offline; data loads on the next sync)\n", ui.RenderPass("✓"), label)
				return
			}
			fmt.Fprintf(os.Stderr, "%s Signed in as %s, but the initial sync failed: %v\n", ui.RenderWarn("⚠"), label, err)
			return
		} else if result != nil {
			fmt.Printf("%s Signed in as %s (%s)\n", ui.RenderPass("✓"), label, result.Summary())
			return
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), label)
	},
}

// chooseResolution picks discard-vs-keep from flags, or interactively
// when attached to a terminal.
func chooseResolution(conflict *syncer.Conflict) (discard bool, err error) {
	if loginDiscard {
		return true, nil
	}
	if loginKeep {
		return false, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("this device holds data for %s; rerun with --discard-local or --keep-local",
			conflict.ExistingLabel)
	}

	err = huh.NewConfirm().
		Title(fmt.Sprintf("This device holds local data for %s", conflict.ExistingLabel)).
		Description("Discard it and reload your data from the server?\nKeeping it leaves unsynced records attributed to the previous account.").
		Affirmative("Discard and reload").
		Negative("Keep existing data").
		Value(&discard).
		Run()
	return discard, err
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out, refusing while records are unsynced",
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(false)
		defer e.Close()

		unsynced, err := e.engine.HasUnsynced(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking pending records: %v\n", err)
			os.Exit(1)
		}
		if unsynced {
			fmt.Fprintf(os.Stderr, "%s Unsynced records remain; run `rollcall sync` first\n", ui.RenderFail("✗"))
			os.Exit(1)
		}

		if err := e.secrets.Set(secrets.KeyIdentityID, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing identity: %v\n", err)
			os.Exit(1)
		}
		if err := e.secrets.Set(secrets.KeyIdentityLabel, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing identity label: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginDiscard, "discard-local", false,
		"discard another identity's local data without prompting")
	loginCmd.Flags().BoolVar(&loginKeep, "keep-local", false,
		"keep another identity's local data without prompting")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
