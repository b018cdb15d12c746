package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration to .quorum-sweep.yaml in the
current directory. The lock secret and the fixer command are left empty and
must be filled in (or set through SWEEP_LOCK_SECRET and
SWEEP_EXECUTOR_COMMAND) before the first run.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initForce bool
	initPath  string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().StringVar(&initPath, "path", config.DefaultConfigName+".yaml", "Where to write the configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	if err := config.WriteDefault(initPath, initForce); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("configuration already exists at %s, use --force to overwrite", initPath)
		}
		return fmt.Errorf("writing config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration file:", initPath)
	fmt.Fprintln(out, "Set lock.secret and executor.command, then run 'quorum-sweep run'")
	return nil
}
