package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agusx1211/grotto/internal/buildinfo"
	"github.com/agusx1211/grotto/internal/config"
	"github.com/agusx1211/grotto/internal/daemon"
	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/pane"
	"github.com/agusx1211/grotto/internal/registry"
	"github.com/agusx1211/grotto/internal/webserver"
)

const (
	daemonChildEnv  = "GROTTO_DAEMON_CHILD"
	mdnsServiceType = "_grotto._tcp"
	startupTimeout  = 8 * time.Second
	stopTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// runtimeState is written to ~/.grotto/daemon.json while the daemon runs so
// CLI commands can find it.
type runtimeState struct {
	PID       int    `json:"pid"`
	URL       string `json:"url"`
	Port      int    `json:"port"`
	Host      string `json:"host"`
	Scheme    string `json:"scheme"`
	AuthToken string `json:"auth_token,omitempty"`
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the grotto daemon",
	Long: `The daemon supervises every registered session: it watches the session
files, infers agent phases from their panes and serves the REST/WebSocket API
and the web UI.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runDaemonServe,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and registered sessions",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	addServeFlags(daemonStartCmd)
	addServeFlags(daemonServeCmd)
	daemonCmd.AddCommand(daemonStartCmd, daemonServeCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on (0 picks a free port)")
	cmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	cmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "How often agent panes are captured")
	cmd.Flags().Bool("expose", false, "Bind to 0.0.0.0 for LAN access (enables TLS and a generated token)")
	cmd.Flags().String("tls", "", "TLS mode: 'self-signed' or 'custom' (requires --cert and --key)")
	cmd.Flags().String("cert", "", "Path to TLS certificate file (for --tls=custom)")
	cmd.Flags().String("key", "", "Path to TLS key file (for --tls=custom)")
	cmd.Flags().String("auth-token", "", "Require Bearer token for API access")
	cmd.Flags().String("web-dir", "", "Serve UI files from this directory before the embedded ones")
	cmd.Flags().Bool("mdns", false, "Advertise the daemon on the local network via mDNS")
	cmd.Flags().Bool("qr", false, "Print a QR code of the daemon URL")
	cmd.Flags().Bool("open", false, "Open the web UI in a browser")
}

// serveOptions is the merged result of daemon.yaml and the command flags.
type serveOptions struct {
	Host           string
	Port           int
	PollInterval   time.Duration
	TLS            string
	CertFile       string
	KeyFile        string
	AuthToken      string
	WebDir         string
	MDNS           bool
	Expose         bool
	GeneratedToken bool
}

// resolveServeOptions loads the settings file and lets every flag the user
// set override it.
func resolveServeOptions(cmd *cobra.Command, settingsPath string) (serveOptions, error) {
	s, err := config.LoadDaemonSettings(settingsPath)
	if err != nil {
		return serveOptions{}, err
	}
	interval, err := s.Interval()
	if err != nil {
		return serveOptions{}, err
	}
	o := serveOptions{
		Host:         s.Host,
		Port:         s.Port,
		PollInterval: interval,
		TLS:          s.TLS,
		CertFile:     s.CertFile,
		KeyFile:      s.KeyFile,
		AuthToken:    s.AuthToken,
		WebDir:       s.WebDir,
		MDNS:         s.MDNS,
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		o.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		o.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("poll-interval") {
		o.PollInterval, _ = flags.GetDuration("poll-interval")
		if o.PollInterval <= 0 {
			return serveOptions{}, fmt.Errorf("--poll-interval must be positive")
		}
	}
	if flags.Changed("tls") {
		o.TLS, _ = flags.GetString("tls")
	}
	if flags.Changed("cert") {
		o.CertFile, _ = flags.GetString("cert")
	}
	if flags.Changed("key") {
		o.KeyFile, _ = flags.GetString("key")
	}
	if flags.Changed("auth-token") {
		o.AuthToken, _ = flags.GetString("auth-token")
	}
	if flags.Changed("web-dir") {
		o.WebDir, _ = flags.GetString("web-dir")
	}
	if flags.Changed("mdns") {
		o.MDNS, _ = flags.GetBool("mdns")
	}
	o.Expose, _ = flags.GetBool("expose")

	if o.Port < 0 || o.Port > 65535 {
		return serveOptions{}, fmt.Errorf("invalid port %d", o.Port)
	}
	if o.Expose {
		o.Host = "0.0.0.0"
		o.MDNS = true
		if o.TLS == "" {
			o.TLS = "self-signed"
		}
		if strings.TrimSpace(o.AuthToken) == "" {
			o.AuthToken = generateToken()
			o.GeneratedToken = true
		}
	}
	if o.TLS != "" && o.TLS != "self-signed" && o.TLS != "custom" {
		return serveOptions{}, fmt.Errorf("invalid --tls value %q, expected 'self-signed' or 'custom'", o.TLS)
	}
	if o.TLS == "custom" && (o.CertFile == "" || o.KeyFile == "") {
		return serveOptions{}, fmt.Errorf("--tls=custom requires both --cert and --key")
	}
	return o, nil
}

func runDaemonServe(cmd *cobra.Command, args []string) error {
	daemonChild := os.Getenv(daemonChildEnv) == "1"

	state, running, err := loadDaemonState(config.PIDPath(), config.StatePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking existing daemon: %w", err)
	}
	if running && state.PID != os.Getpid() {
		return fmt.Errorf("grotto daemon is already running (pid %d)", state.PID)
	}

	opts, err := resolveServeOptions(cmd, config.SettingsPath())
	if err != nil {
		return err
	}
	if opts.Expose && !daemonChild {
		fmt.Fprintln(os.Stderr, "Warning: exposing the daemon on all interfaces.")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(daemon.Options{
		Store:        registry.NewStore(config.SessionsPath()),
		Backend:      pane.NewTmux(),
		PollInterval: opts.PollInterval,
		Context:      ctx,
	})
	d.Restore()
	defer d.Close()

	srv := webserver.New(d, webserver.Options{
		Host:      opts.Host,
		Port:      opts.Port,
		TLSMode:   opts.TLS,
		CertFile:  opts.CertFile,
		KeyFile:   opts.KeyFile,
		AuthToken: opts.AuthToken,
		WebDir:    opts.WebDir,
	})
	if err := srv.Start(); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && !daemonChild {
			fmt.Fprintf(os.Stderr, "Port %d is already in use.\n", opts.Port)
			fmt.Fprintf(os.Stderr, "Try: grotto daemon serve --port %d\n", opts.Port+1)
		}
		return fmt.Errorf("starting daemon: %w", err)
	}

	url := srv.URL()
	host, port := splitHostPort(srv.Addr())
	state = runtimeState{
		PID:       os.Getpid(),
		URL:       url,
		Port:      port,
		Host:      host,
		Scheme:    srv.Scheme(),
		AuthToken: opts.AuthToken,
	}
	if err := writeRuntimeFiles(config.PIDPath(), config.StatePath(), state); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return fmt.Errorf("writing daemon metadata: %w", err)
	}
	defer func() {
		_ = removeRuntimeFiles(config.PIDPath(), config.StatePath())
	}()
	debug.LogKV("cli", "daemon serving", "url", url, "sessions", d.Count(), "child", daemonChild)

	if !daemonChild {
		// Clickable URL via OSC 8 for terminals that support it.
		if colorEnabled {
			fmt.Printf("\033]8;;%s\033\\%s\033]8;;\033\\\n", url, url)
		} else {
			fmt.Println(url)
		}
		fmt.Printf("Supervising %d session(s).\n", d.Count())
		if opts.GeneratedToken {
			fmt.Fprintf(os.Stderr, "Generated auth token: %s\n", opts.AuthToken)
		} else if opts.AuthToken != "" {
			fmt.Println("Auth token required for API access.")
		}
		if qr, _ := cmd.Flags().GetBool("qr"); qr || opts.Expose {
			if err := printQRCode(url); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
			}
		}
		if open, _ := cmd.Flags().GetBool("open"); open {
			if err := openBrowser(url); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", err)
			}
		}
	}

	if opts.MDNS {
		server, err := startMDNSService(port, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start mDNS advertisement: %v\n", err)
		} else {
			defer server.Shutdown()
		}
	}

	<-ctx.Done()
	debug.LogKV("cli", "daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down daemon: %w", err)
	}
	return nil
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	state, running, err := loadDaemonState(config.PIDPath(), config.StatePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking existing daemon: %w", err)
	}
	if running {
		return fmt.Errorf("grotto daemon is already running (pid %d)", state.PID)
	}

	opts, err := resolveServeOptions(cmd, config.SettingsPath())
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}
	childArgs := append([]string{"daemon", "serve"}, forwardedFlags(cmd)...)
	if opts.GeneratedToken {
		childArgs = append(childArgs, "--auth-token="+opts.AuthToken)
	}

	logFile, err := os.OpenFile(config.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, childArgs...)
	child.Env = append(debug.PropagatedEnv(os.Environ(), "daemon"), daemonChildEnv+"=1")
	child.Stdin = nil
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	debug.LogKV("cli", "daemon child started", "pid", child.Process.Pid, "args", childArgs)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- child.Wait()
	}()

	state, err = waitForDaemonStartup(config.PIDPath(), config.StatePath(), waitCh, startupTimeout)
	if err != nil {
		return fmt.Errorf("%w (see %s)", err, config.LogPath())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, colored(styleBoldGreen, "grotto daemon started."))
	fmt.Fprintf(out, "URL: %s\n", state.URL)
	fmt.Fprintf(out, "PID: %d\n", state.PID)
	if opts.GeneratedToken {
		fmt.Fprintf(out, "Auth token: %s\n", opts.AuthToken)
	}
	if qr, _ := cmd.Flags().GetBool("qr"); qr || opts.Expose {
		if err := printQRCode(state.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
		}
	}
	if open, _ := cmd.Flags().GetBool("open"); open {
		if err := openBrowser(state.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", err)
		}
	}
	return nil
}

// forwardedFlags re-encodes the flags the user set on start so the serve
// child sees the same configuration. Presentation-only flags stay behind.
func forwardedFlags(cmd *cobra.Command) []string {
	var out []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "qr", "open", "debug":
			return
		}
		out = append(out, "--"+f.Name+"="+f.Value.String())
	})
	return out
}

func waitForDaemonStartup(pidPath, statePath string, waitCh <-chan error, timeout time.Duration) (runtimeState, error) {
	deadline := time.Now().Add(timeout)
	for {
		state, running, err := loadDaemonState(pidPath, statePath, isPIDAlive)
		if err != nil {
			return runtimeState{}, fmt.Errorf("reading daemon state: %w", err)
		}
		if running && strings.TrimSpace(state.URL) != "" {
			return state, nil
		}

		select {
		case err := <-waitCh:
			if err == nil {
				return runtimeState{}, fmt.Errorf("daemon exited before startup")
			}
			return runtimeState{}, fmt.Errorf("daemon exited before startup: %w", err)
		default:
		}

		if time.Now().After(deadline) {
			return runtimeState{}, fmt.Errorf("timed out waiting for daemon startup")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	state, running, err := loadDaemonState(config.PIDPath(), config.StatePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "No grotto daemon running.")
		return nil
	}

	if err := syscall.Kill(state.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("sending SIGTERM to daemon pid %d: %w", state.PID, err)
	}
	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !isPIDAlive(state.PID) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if isPIDAlive(state.PID) {
		debug.LogKV("cli", "daemon ignored SIGTERM, killing", "pid", state.PID)
		if err := syscall.Kill(state.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("sending SIGKILL to daemon pid %d: %w", state.PID, err)
		}
	}

	if err := removeRuntimeFiles(config.PIDPath(), config.StatePath()); err != nil {
		return fmt.Errorf("removing daemon runtime metadata: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "grotto daemon stopped.")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	state, running, err := loadDaemonState(config.PIDPath(), config.StatePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		fmt.Fprintf(out, "grotto daemon running (PID %d)\n", state.PID)
		if url := state.baseURL(); url != "" {
			fmt.Fprintf(out, "URL: %s\n", url)
		}
	} else {
		fmt.Fprintln(out, "grotto daemon not running.")
	}

	entries := registry.Load(config.SessionsPath()).Entries()
	fmt.Fprintf(out, "Registered sessions: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "  %-24s %s\n", e.ID, colored(colorDim, e.Dir))
	}
	return nil
}

// baseURL is the daemon URL, rebuilt from host and port when the state file
// predates the url field.
func (s runtimeState) baseURL() string {
	if url := strings.TrimSpace(s.URL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if s.Port <= 0 {
		return ""
	}
	scheme := strings.TrimSpace(s.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimSpace(s.Host)
	if host == "" {
		host = config.DefaultHost
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(s.Port)))
}

func writeRuntimeFiles(pidPath, statePath string, state runtimeState) error {
	if err := writePIDFile(pidPath, state.PID); err != nil {
		return err
	}
	if err := writeRuntimeState(statePath, state); err != nil {
		_ = os.Remove(pidPath)
		return err
	}
	return nil
}

func removeRuntimeFiles(pidPath, statePath string) error {
	var errs []error
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.Remove(statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadDaemonState reports the running daemon, cleaning up files left by a
// daemon that died without removing them.
func loadDaemonState(pidPath, statePath string, pidAlive func(int) bool) (runtimeState, bool, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runtimeState{}, false, nil
		}
		return runtimeState{}, false, err
	}

	if !pidAlive(pid) {
		_ = removeRuntimeFiles(pidPath, statePath)
		return runtimeState{}, false, nil
	}

	state, err := readRuntimeState(statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runtimeState{PID: pid}, true, nil
		}
		return runtimeState{}, false, err
	}
	state.PID = pid
	return state, true, nil
}

func writePIDFile(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

// writeRuntimeState keeps the file private: it may hold the auth token.
func writeRuntimeState(path string, state runtimeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func readRuntimeState(path string) (runtimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runtimeState{}, err
	}
	var state runtimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return runtimeState{}, err
	}
	return state, nil
}

func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func startMDNSService(port int, url string) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	name := "grotto"
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		name = "grotto-" + strings.TrimSpace(host)
	}
	txt := []string{
		"url=" + url,
		"version=" + buildinfo.Current().Version,
	}
	service, err := mdns.NewMDNSService(name, mdnsServiceType, "local", "", port, nil, txt)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

func printQRCode(url string) error {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Println(code.ToString(false))
	return nil
}

func splitHostPort(addr string) (string, int) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return host, 0
	}
	return host, port
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", url).Start()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
