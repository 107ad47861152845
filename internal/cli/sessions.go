package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/daemon"
	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/state"
	"github.com/agusx1211/grotto/internal/theme"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage the sessions the daemon supervises",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered sessions",
	Args:    cobra.NoArgs,
	RunE:    runSessionsList,
}

var sessionsRegisterCmd = &cobra.Command{
	Use:   "register [dir]",
	Short: "Register the session in dir (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsRegister,
}

var sessionsUnregisterCmd = &cobra.Command{
	Use:   "unregister <session-id>",
	Short: "Stop supervising a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsUnregister,
}

var sessionsEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print a session's event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsEvents,
}

func init() {
	sessionsRegisterCmd.Flags().String("id", "", "Session id (default: session_id from .grotto/config.toml)")
	sessionsEventsCmd.Flags().IntP("limit", "n", 0, "Only print the last N events")
	sessionsEventsCmd.Flags().Bool("json", false, "Print raw JSON lines")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsRegisterCmd, sessionsUnregisterCmd, sessionsEventsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	sessions, err := client.ListSessions()
	if err != nil {
		return err
	}
	printSessions(cmd.OutOrStdout(), sessions, time.Now())
	return nil
}

func printSessions(w io.Writer, sessions []daemon.SessionSummary, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions registered. Run 'grotto sessions register' in a session directory.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAGENTS\tUPDATED\tTASK\tDIR")
	for _, s := range sessions {
		updated := "never"
		if s.LastUpdated != nil {
			updated = humanize.RelTime(*s.LastUpdated, now, "ago", "from now")
		}
		status := s.Status
		if colorEnabled {
			status = theme.SessionStatus(s.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, status, s.AgentCount, updated, truncate(s.Task, 40), s.Dir)
	}
	tw.Flush()
}

func runSessionsRegister(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	abs, err := resolveDir(dir)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	id, err = sessionIDFor(abs, id)
	if err != nil {
		return err
	}

	client, err := connectDaemon()
	if err != nil {
		return err
	}
	if err := client.RegisterSession(id, abs); err != nil {
		return err
	}
	debug.LogKV("cli", "registered session", "id", id, "dir", abs)
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", colored(styleBoldWhite, id), abs)
	fmt.Fprintf(cmd.OutOrStdout(), "Follow it with: grotto watch %s\n", id)
	return nil
}

// sessionIDFor returns explicit if set, otherwise the session_id recorded in
// dir's config.toml.
func sessionIDFor(dir, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	cfg, err := state.ReadConfig(state.Dir(dir))
	if err != nil {
		return "", fmt.Errorf("no .grotto session in %s (run 'grotto init' first): %w", dir, err)
	}
	if id := strings.TrimSpace(cfg.SessionID); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%s has no session_id in config.toml; pass --id", dir)
}

func runSessionsUnregister(cmd *cobra.Command, args []string) error {
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	id := strings.TrimSpace(args[0])
	if err := client.UnregisterSession(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", id)
	return nil
}

func runSessionsEvents(cmd *cobra.Command, args []string) error {
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	raw, err := client.SessionEvents(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit > 0 && len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	printEvents(cmd.OutOrStdout(), raw, asJSON)
	return nil
}

func printEvents(w io.Writer, raw []json.RawMessage, asJSON bool) {
	if len(raw) == 0 && !asJSON {
		fmt.Fprintln(w, "No events.")
		return
	}
	for _, line := range raw {
		if asJSON {
			fmt.Fprintln(w, string(line))
			continue
		}
		e, ok := state.ParseEvent(string(line))
		if !ok {
			continue
		}
		fmt.Fprintln(w, formatEvent(e))
	}
}

func formatEvent(e state.Event) string {
	var b strings.Builder
	b.WriteString(colored(colorDim, e.Timestamp.Local().Format("2006-01-02 15:04:05")))
	b.WriteString(" ")
	b.WriteString(colored(colorCyan, fmt.Sprintf("%-16s", e.EventType)))
	if e.AgentID != "" {
		b.WriteString(" ")
		b.WriteString(colored(colorBlue, e.AgentID))
	}
	if e.TaskID != "" {
		b.WriteString(" " + colored(colorDim, "["+e.TaskID+"]"))
	}
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	}
	return b.String()
}
