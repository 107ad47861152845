package cli

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a registered session live in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("grotto watch needs a terminal; use 'grotto sessions events %s' instead", args[0])
	}
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	id := strings.TrimSpace(args[0])
	opts := tui.Options{
		SessionID: id,
		URL:       client.WebSocketURL("/ws/" + url.PathEscape(id)),
		Header:    client.AuthHeader(),
	}
	if strings.HasPrefix(opts.URL, "wss://") {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		}
	}
	return tui.Run(opts)
}
