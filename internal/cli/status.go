package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/phase"
	"github.com/agusx1211/grotto/internal/state"
	"github.com/agusx1211/grotto/internal/theme"
)

// newPaneBackend is swapped out in tests.
var newPaneBackend = func() pane.Backend { return pane.NewTmux() }

const recentEventCount = 5

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local session: agents, live phases, tasks and recent events",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("dir", ".", "Project directory")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	projectDir, err := resolveDir(dir)
	if err != nil {
		return err
	}
	s, err := state.Load(projectDir)
	if err != nil {
		return fmt.Errorf("%w (run 'grotto init' first)", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	var snaps []pane.Snapshot
	if name := strings.TrimSpace(s.Config.SessionID); name != "" {
		snaps = pane.CaptureAll(ctx, newPaneBackend(), name, s.Config.AgentCount)
	}
	printStatus(cmd.OutOrStdout(), s, snaps, time.Now())
	return nil
}

func printStatus(w io.Writer, s *state.Session, snaps []pane.Snapshot, now time.Time) {
	printHeader(w, "Session")
	printField(w, "Session", orDash(s.Config.SessionID))
	printField(w, "Task", s.Config.Task)
	printField(w, "Project", s.Config.ProjectDir)
	live := "no tmux session"
	if pane.Live(snaps) {
		live = colored(colorGreen, "live")
	} else if len(snaps) > 0 {
		live = colored(colorDim, "completed")
	}
	printField(w, "Terminal", live)

	phases := make(map[string]pane.Snapshot, len(snaps))
	for _, snap := range snaps {
		phases[snap.AgentID] = snap
	}

	printHeader(w, "Agents")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tSTATE\tPHASE\tTASK\tPROGRESS\tUPDATED")
	for _, a := range s.SortedAgents() {
		ph := "-"
		if snap, ok := phases[a.ID]; ok {
			ph = renderPhase(snap.Phase)
		}
		updated := "-"
		if !a.LastUpdate.IsZero() {
			updated = humanize.RelTime(a.LastUpdate, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, statusBadge(a.State), ph, orDash(a.CurrentTask), truncate(a.Progress, 40), updated)
	}
	tw.Flush()
	for _, snap := range snaps {
		if snap.LastActivityLine != "" {
			fmt.Fprintf(w, "  %s %s\n", colored(colorDim, snap.AgentID+":"), truncate(snap.LastActivityLine, 70))
		}
	}

	printHeader(w, "Tasks")
	tasks := state.ReadTaskBoard(s.Root)
	if len(tasks) == 0 {
		fmt.Fprintln(w, "  (task board is empty)")
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  %s %s %s", t.Status.Emoji(), colored(colorBold, t.ID), t.Description)
		if t.ClaimedBy != "" {
			line += colored(colorDim, " (claimed by "+t.ClaimedBy+")")
		}
		fmt.Fprintln(w, line)
	}

	events := state.ReadEvents(s.Root)
	if len(events) > recentEventCount {
		events = events[len(events)-recentEventCount:]
	}
	printHeader(w, "Recent events")
	if len(events) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range events {
		fmt.Fprintln(w, "  "+formatEvent(e))
	}
}

func renderPhase(p phase.Phase) string {
	if colorEnabled {
		return theme.PhaseBadge(p)
	}
	return p.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
