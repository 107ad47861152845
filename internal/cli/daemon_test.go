package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/config"
	"github.com/agusx1211/grotto/internal/registry"
)

func newServeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "serve"}
	addServeFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return cmd
}

func TestServeFlagDefaults(t *testing.T) {
	cmd := newServeCmd(t)

	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		t.Fatalf("getting port flag: %v", err)
	}
	if port != config.DefaultPort {
		t.Fatalf("port = %d, want %d", port, config.DefaultPort)
	}
	interval, _ := cmd.Flags().GetDuration("poll-interval")
	if interval != 750*time.Millisecond {
		t.Fatalf("poll-interval = %v, want 750ms", interval)
	}
	if open, _ := cmd.Flags().GetBool("open"); open {
		t.Fatal("open default = true, want false")
	}
}

func TestResolveServeOptionsMergesSettingsAndFlags(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "daemon.yaml")
	yaml := "host: 0.0.0.0\nport: 9999\npoll_interval: 2s\nweb_dir: /srv/ui\nauth_token: from-file\n"
	if err := os.WriteFile(settings, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name      string
		args      []string
		wantHost  string
		wantPort  int
		wantPoll  time.Duration
		wantToken string
	}{
		{name: "file only", wantHost: "0.0.0.0", wantPort: 9999, wantPoll: 2 * time.Second, wantToken: "from-file"},
		{name: "port flag", args: []string{"--port", "0"}, wantHost: "0.0.0.0", wantPort: 0, wantPoll: 2 * time.Second, wantToken: "from-file"},
		{name: "every flag", args: []string{"--host", "127.0.0.1", "-p", "7000", "--poll-interval", "100ms", "--auth-token", "cli"},
			wantHost: "127.0.0.1", wantPort: 7000, wantPoll: 100 * time.Millisecond, wantToken: "cli"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := resolveServeOptions(newServeCmd(t, tt.args...), settings)
			if err != nil {
				t.Fatalf("resolveServeOptions: %v", err)
			}
			if o.Host != tt.wantHost || o.Port != tt.wantPort || o.PollInterval != tt.wantPoll || o.AuthToken != tt.wantToken {
				t.Fatalf("options = %+v", o)
			}
			if o.WebDir != "/srv/ui" {
				t.Fatalf("web dir = %q, want /srv/ui", o.WebDir)
			}
		})
	}
}

func TestResolveServeOptionsMissingSettingsUsesDefaults(t *testing.T) {
	o, err := resolveServeOptions(newServeCmd(t), filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("resolveServeOptions: %v", err)
	}
	if o.Host != config.DefaultHost || o.Port != config.DefaultPort || o.PollInterval != config.DefaultPollInterval {
		t.Fatalf("options = %+v, want defaults", o)
	}
	if o.TLS != "" || o.AuthToken != "" || o.MDNS {
		t.Fatalf("options = %+v, want no TLS, token or mDNS", o)
	}
}

func TestResolveServeOptionsExpose(t *testing.T) {
	o, err := resolveServeOptions(newServeCmd(t, "--expose"), filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("resolveServeOptions: %v", err)
	}
	if o.Host != "0.0.0.0" || o.TLS != "self-signed" || !o.MDNS {
		t.Fatalf("options = %+v, want exposed self-signed with mDNS", o)
	}
	if !o.GeneratedToken || len(o.AuthToken) != 64 {
		t.Fatalf("token = %q (generated %v), want a generated 64-char token", o.AuthToken, o.GeneratedToken)
	}

	o, err = resolveServeOptions(newServeCmd(t, "--expose", "--auth-token", "mine"), filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("resolveServeOptions: %v", err)
	}
	if o.GeneratedToken || o.AuthToken != "mine" {
		t.Fatalf("token = %q (generated %v), want the given token", o.AuthToken, o.GeneratedToken)
	}
}

func TestResolveServeOptionsRejectsBadInput(t *testing.T) {
	tests := map[string][]string{
		"tls mode":      {"--tls", "bogus"},
		"custom no key": {"--tls", "custom", "--cert", "c.pem"},
		"port range":    {"--port", "70000"},
		"poll interval": {"--poll-interval", "0s"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := resolveServeOptions(newServeCmd(t, args...), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
				t.Fatalf("resolveServeOptions(%v) succeeded, want error", args)
			}
		})
	}
}

func TestForwardedFlagsSkipsPresentationFlags(t *testing.T) {
	cmd := newServeCmd(t, "--port", "7000", "--qr", "--open", "--auth-token", "abc")
	got := strings.Join(forwardedFlags(cmd), " ")
	if !strings.Contains(got, "--port=7000") || !strings.Contains(got, "--auth-token=abc") {
		t.Fatalf("forwarded = %q, want port and token", got)
	}
	if strings.Contains(got, "--qr") || strings.Contains(got, "--open") {
		t.Fatalf("forwarded = %q, should not carry qr/open", got)
	}
}

func TestLoadDaemonStateRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "daemon.pid")
	statePath := filepath.Join(dir, "daemon.json")
	if err := writeRuntimeFiles(pidPath, statePath, runtimeState{PID: 4242, URL: "http://127.0.0.1:1"}); err != nil {
		t.Fatalf("writeRuntimeFiles: %v", err)
	}

	_, running, err := loadDaemonState(pidPath, statePath, func(int) bool { return false })
	if err != nil {
		t.Fatalf("loadDaemonState: %v", err)
	}
	if running {
		t.Fatal("dead pid reported as running")
	}
	for _, p := range []string{pidPath, statePath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should have been removed, stat err = %v", p, err)
		}
	}
}

func TestLoadDaemonStateWithoutStateFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "daemon.pid")
	if err := writePIDFile(pidPath, 77); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}

	state, running, err := loadDaemonState(pidPath, filepath.Join(dir, "daemon.json"), func(pid int) bool { return pid == 77 })
	if err != nil {
		t.Fatalf("loadDaemonState: %v", err)
	}
	if !running || state.PID != 77 || state.URL != "" {
		t.Fatalf("state = %+v running = %v, want pid-only running state", state, running)
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	for _, content := range []string{"abc\n", "-3\n"} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := readPIDFile(path); err == nil {
			t.Fatalf("readPIDFile(%q) succeeded, want error", content)
		}
	}
	if err := writePIDFile(path, 0); err == nil {
		t.Fatal("writePIDFile(0) succeeded, want error")
	}
}

func TestRuntimeStateFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	if err := writeRuntimeState(path, runtimeState{PID: 1, AuthToken: "secret"}); err != nil {
		t.Fatalf("writeRuntimeState: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("mode = %o, want 600", perm)
	}
	got, err := readRuntimeState(path)
	if err != nil || got.AuthToken != "secret" {
		t.Fatalf("readRuntimeState = %+v, %v", got, err)
	}
}

func TestRuntimeStateBaseURL(t *testing.T) {
	tests := []struct {
		state runtimeState
		want  string
	}{
		{runtimeState{URL: "http://127.0.0.1:9091/"}, "http://127.0.0.1:9091"},
		{runtimeState{Port: 9000}, "http://127.0.0.1:9000"},
		{runtimeState{Port: 9000, Host: "::1", Scheme: "https"}, "https://[::1]:9000"},
		{runtimeState{}, ""},
	}
	for _, tt := range tests {
		if got := tt.state.baseURL(); got != tt.want {
			t.Errorf("baseURL(%+v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRunDaemonStatusRunning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	state := runtimeState{PID: os.Getpid(), URL: "http://127.0.0.1:8181", Port: 8181, Host: "127.0.0.1", Scheme: "http"}
	if err := writeRuntimeFiles(config.PIDPath(), config.StatePath(), state); err != nil {
		t.Fatalf("writing runtime files: %v", err)
	}
	reg := registry.New()
	reg.Register(registry.Entry{ID: "amber-fox-reef", Dir: "/work/one", AgentCount: 2})
	reg.Register(registry.Entry{ID: "calm-tide-wren", Dir: "/work/two", AgentCount: 1})
	if err := reg.Save(config.SessionsPath()); err != nil {
		t.Fatalf("saving registry: %v", err)
	}

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := runDaemonStatus(cmd, nil); err != nil {
		t.Fatalf("runDaemonStatus() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"grotto daemon running (PID ", "URL: http://127.0.0.1:8181", "Registered sessions: 2", "amber-fox-reef", "/work/two"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status output missing %q: %q", want, got)
		}
	}
}

func TestRunDaemonStatusWhenNotRunning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := runDaemonStatus(cmd, nil); err != nil {
		t.Fatalf("runDaemonStatus() error = %v", err)
	}
	if !strings.Contains(out.String(), "grotto daemon not running.") || !strings.Contains(out.String(), "Registered sessions: 0") {
		t.Fatalf("status output = %q, want not-running message", out.String())
	}
}

func TestRunDaemonStopWhenNotRunning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := runDaemonStop(cmd, nil); err != nil {
		t.Fatalf("runDaemonStop() error = %v", err)
	}
	if !strings.Contains(out.String(), "No grotto daemon running.") {
		t.Fatalf("stop output = %q", out.String())
	}
}

func TestGenerateToken(t *testing.T) {
	a, b := generateToken(), generateToken()
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Fatal("two generated tokens are equal")
	}
}

func TestSplitHostPort(t *testing.T) {
	host, port := splitHostPort("127.0.0.1:9091")
	if host != "127.0.0.1" || port != 9091 {
		t.Fatalf("splitHostPort = %q, %d", host, port)
	}
	if _, port := splitHostPort("nonsense"); port != 0 {
		t.Fatalf("port = %d, want 0", port)
	}
}
