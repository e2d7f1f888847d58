package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/testutils"
)

type captureTransport struct {
	mu   sync.Mutex
	envs []notify.Envelope
}

func (c *captureTransport) Send(_ context.Context, env notify.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureTransport) sent() []notify.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Envelope(nil), c.envs...)
}

// fixture is a config file with its directories.
type fixture struct {
	dirs   testutils.Dirs
	base   string
	path   string
	dbPath string
}

func newFixture(t *testing.T, extra string) fixture {
	t.Helper()
	dirs := testutils.NewDirs(t)
	base := filepath.Dir(dirs.Watch)
	f := fixture{
		dirs:   dirs,
		base:   base,
		path:   filepath.Join(base, "docrelay.yml"),
		dbPath: filepath.Join(base, "audit", "docrelay.db"),
	}

	content := fmt.Sprintf(`
watch:
  dir: %q
staging:
  dir: %q
  copy_backoff: 1ms
  remove_backoff: 1ms
  disk_free_threshold_mb: 1
smtp:
  host: smtp.corp.example
  port: 587
  password: hunter2
mail:
  from: docrelay@corp.example
  domain: corp.example
  send_backoff: 1ms
intake:
  poll_interval: 10ms
supervisor:
  start_backoff: 10ms
  alive_interval: 20ms
  shutdown_timeout: 5s
monitoring:
  resource_log: %q
audit:
  db_path: %q
templates:
  - name: WireTransfer
    pattern: '^WIRE_(\d+)'
    recipients: [wires@corp.example]
    subject: 'Wire Transfer Form {}'
    body: A new wire transfer form arrived.
%s`, dirs.Watch, dirs.Staging, filepath.Join(base, "logs"), f.dbPath, extra)

	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o600))
	return f
}

func resetFlags(c *cobra.Command) {
	reset := func(fl *pflag.Flag) {
		_ = fl.Value.Set(fl.DefValue)
		fl.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with a fresh viper and default flags and
// returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	cfgFile = ""
	t.Cleanup(viper.Reset)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if errOut.Len() > 0 {
		t.Log(errOut.String())
	}
	return out.String(), err
}
