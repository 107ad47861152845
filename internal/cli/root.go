package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/buildinfo"
	"github.com/agusx1211/grotto/internal/debug"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"

	// Combined styles
	styleBoldCyan   = "\033[1;36m"
	styleBoldGreen  = "\033[1;32m"
	styleBoldYellow = "\033[1;33m"
	styleBoldWhite  = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "grotto",
	Short: "Live observer for teams of terminal coding agents",
	Long: `grotto watches teams of AI coding agents running in tmux panes.

Agents coordinate through plain files under .grotto/ in their project
(a task board, per-agent status files and an event log). The grotto daemon
watches those files, infers what every agent is doing from its pane, and
streams the result to browsers and to grotto watch.

Getting Started:
  grotto init --agents 3 --task "..."   Lay out .grotto/ in this directory
  grotto daemon start                   Start the background daemon
  grotto sessions register .            Have the daemon supervise this session
  grotto watch <session-id>             Follow it live in the terminal
  grotto status                         Local overview without the daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.grotto/debug/")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		if os.Getenv(daemonChildEnv) != "1" {
			fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", paint(colorDim), paint(colorReset), logPath)
		}
		bi := buildinfo.Current()
		debug.LogKV("cli", "grotto starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"build_date", bi.BuildDate,
			"pid", os.Getpid(),
			"command", cmd.CommandPath(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", paint(colorRed), err, paint(colorReset))
		debug.Close()
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
