package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/state"
	"github.com/agusx1211/grotto/pkg/protocol"
)

var promptCmd = &cobra.Command{
	Use:   "prompt <agent-id>",
	Short: "Print the coordination instructions for one agent",
	Long: `Print the prompt that teaches an agent the .grotto/ coordination files.
Paste it into the agent's pane or pass it as its system prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().String("dir", ".", "Project directory")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	projectDir, err := resolveDir(dir)
	if err != nil {
		return err
	}
	s, err := state.Load(projectDir)
	if err != nil {
		return fmt.Errorf("%w (run 'grotto init' first)", err)
	}
	agent, ok := s.Agents[args[0]]
	if !ok {
		return fmt.Errorf("no agent %q in %s", args[0], s.Root)
	}
	fmt.Fprint(cmd.OutOrStdout(), protocol.AgentInstructions(protocol.Agent{
		ID:         agent.ID,
		PaneIndex:  agent.PaneIndex,
		Task:       s.Config.Task,
		ProjectDir: s.Config.ProjectDir,
		SessionID:  s.Config.SessionID,
	}))
	return nil
}
