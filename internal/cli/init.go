package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/ident"
	"github.com/agusx1211/grotto/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .grotto/ coordination directory",
	Long: `Lay out .grotto/ in a project: config.toml, one status file per agent,
a task board holding the main task and an events.jsonl with a team_spawned
entry. No tmux session is started; launch the agents in panes 0..N-1 of a
session named after the session id.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().IntP("agents", "a", 3, "Number of agents in the team")
	initCmd.Flags().StringP("task", "t", "", "Main task the team works on (required)")
	initCmd.Flags().String("session-id", "", "tmux session name (default: generated)")
	initCmd.Flags().String("dir", ".", "Project directory")
	initCmd.Flags().Bool("force", false, "Overwrite an existing .grotto/ config, statuses and task board")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	agents, _ := cmd.Flags().GetInt("agents")
	task, _ := cmd.Flags().GetString("task")
	sessionID, _ := cmd.Flags().GetString("session-id")
	dir, _ := cmd.Flags().GetString("dir")
	force, _ := cmd.Flags().GetBool("force")

	task = strings.TrimSpace(task)
	if task == "" {
		return fmt.Errorf("--task is required")
	}
	if agents < 1 {
		return fmt.Errorf("--agents must be at least 1")
	}
	projectDir, err := resolveDir(dir)
	if err != nil {
		return err
	}
	if state.Exists(projectDir) && !force {
		return fmt.Errorf("%s already has a .grotto directory (use --force to reinitialize)", projectDir)
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = ident.SessionID()
	}

	s, err := state.Create(projectDir, agents, task, sessionID)
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}
	debug.LogKV("cli", "session initialized", "dir", projectDir, "session_id", s.Config.SessionID, "agents", agents)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, colored(styleBoldGreen, "Initialized grotto session"))
	printField(out, "Session", s.Config.SessionID)
	printField(out, "Agents", fmt.Sprintf("%d", s.Config.AgentCount))
	printField(out, "Task", s.Config.Task)
	printField(out, "State dir", s.Root)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Start agents in tmux session %s (panes 0..%d); print each one's instructions with\n",
		colored(styleBoldWhite, s.Config.SessionID), agents-1)
	fmt.Fprintf(out, "  grotto prompt agent-1\n")
	fmt.Fprintf(out, "Then register it with the daemon:\n  grotto sessions register %s\n", projectDir)
	return nil
}
