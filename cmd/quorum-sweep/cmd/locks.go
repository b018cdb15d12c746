package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/lock"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and manage lock records",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock records with liveness and signature validity",
	Args:  cobra.NoArgs,
	RunE:  runLocksList,
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release <resource-id>",
	Short: "Delete a lock record held by another process",
	Long: `Delete the lock record for a resource regardless of who holds it.

This is an operator override for locks left behind by a sweeper that is
known to be dead and whose TTL is too long to wait out. A live holder keeps
running until its next heartbeat finds the lock gone. Requires --force.`,
	Args: cobra.ExactArgs(1),
	RunE: runLocksRelease,
}

var (
	locksJSON     bool
	locksLiveOnly bool
	locksForce    bool
)

func init() {
	rootCmd.AddCommand(locksCmd)
	locksCmd.AddCommand(locksListCmd, locksReleaseCmd)

	locksCmd.PersistentFlags().String("backend", "", "lock store backend (sqlite, redis, memory)")
	locksListCmd.Flags().BoolVar(&locksJSON, "json", false, "Output as JSON")
	locksListCmd.Flags().BoolVar(&locksLiveOnly, "live", false, "Hide expired records")
	locksReleaseCmd.Flags().BoolVar(&locksForce, "force", false, "Confirm the override")
}

func runLocksList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, validateLockOnly)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	locks, store, err := openLocks(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	statuses, err := locks.Inspect(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing locks: %w", err)
	}
	if locksLiveOnly {
		live := statuses[:0]
		for _, st := range statuses {
			if st.Live {
				live = append(live, st)
			}
		}
		statuses = live
	}

	if locksJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	return renderLocks(cmd.OutOrStdout(), statuses)
}

func renderLocks(w io.Writer, statuses []lock.Status) error {
	if len(statuses) == 0 {
		_, err := fmt.Fprintln(w, "No locks")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Resource", "Holder", "Expires", "Remaining", "Live", "Signature")
	for _, st := range statuses {
		signature := "valid"
		if !st.Valid {
			signature = "INVALID"
		}
		if err := table.Append(
			st.Record.ResourceID,
			shortToken(st.Record.HolderToken),
			st.Record.ExpiresAt.Local().Format(time.DateTime),
			st.Remaining.Round(time.Second).String(),
			fmt.Sprintf("%t", st.Live),
			signature,
		); err != nil {
			return fmt.Errorf("rendering row %s: %w", st.Record.ResourceID, err)
		}
	}
	return table.Render()
}

// shortToken keeps the host/pid prefix and the start of the nonce.
func shortToken(token string) string {
	const maxLen = 32
	if len(token) <= maxLen {
		return token
	}
	return token[:maxLen] + "…"
}

func runLocksRelease(cmd *cobra.Command, args []string) error {
	if !locksForce {
		return fmt.Errorf("refusing to release %s without --force", args[0])
	}

	cfg, err := loadConfig(cmd, validateLockOnly)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	locks, store, err := openLocks(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	removed, err := locks.ForceRelease(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("releasing %s: %w", args[0], err)
	}
	if !removed {
		fmt.Fprintf(cmd.OutOrStdout(), "No lock held on %s\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released lock on %s\n", args[0])
	return nil
}
