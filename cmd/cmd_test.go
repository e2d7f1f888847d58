package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/docrelay/internal/audit"
	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/testutils"
)

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docrelay")
	assert.Contains(t, out, "Platform:")

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	f := newFixture(t, "")

	out, err := execute(t, "--config", f.path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid (1 templates)")
	// no alert recipients is only a warning
	assert.Contains(t, out, "Validation warnings:")
	assert.Contains(t, out, "mail.alert_to is empty")

	_, err = execute(t, "--config", f.path, "validate", "--strict")
	assert.Error(t, err)
}

func TestValidateCommandReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yml")
	require.NoError(t, os.WriteFile(path, []byte("smtp:\n  port: 70000\n"), 0o600))

	out, err := execute(t, "--config", path, "validate", "--format", "json")
	require.Error(t, err)

	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)

	fields := map[string]bool{}
	for _, p := range report.Errors {
		fields[p.Field] = true
	}
	assert.True(t, fields["watch.dir"])
	assert.True(t, fields["smtp.port"])
	assert.True(t, fields["templates"])
}

func TestValidateCommandChecksDirs(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.RemoveAll(f.dirs.Watch))

	out, err := execute(t, "--config", f.path, "validate", "--check-dirs")
	require.Error(t, err)
	assert.Contains(t, out, "Directory check failed")
}

func TestMissingNamedConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yml"), "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestClassifyCommand(t *testing.T) {
	f := newFixture(t, "")
	pdfPath := testutils.WritePDF(t, f.dirs.Watch, "WIRE_42_x.pdf", 0)
	testutils.WriteFile(t, f.dirs.Watch, "WIRE_42_x.xml",
		testutils.IndexSidecar(map[string]string{"USER NAME": "Ann Lee"}))

	out, err := execute(t, "--config", f.path, "classify", "--cc", "--format", "json", pdfPath, "junk.pdf")
	require.NoError(t, err)

	var results []classifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	assert.Equal(t, "matched", results[0].Result)
	assert.Equal(t, "WireTransfer", results[0].Template)
	assert.Equal(t, "Wire Transfer Form 42", results[0].Subject)
	assert.Equal(t, "ANN.LEE@corp.example", results[0].CC)
	assert.Equal(t, "no_match", results[1].Result)

	out, err = execute(t, "--config", f.path, "classify", "WIRE_7_y.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "template:   WireTransfer")
	assert.NotContains(t, out, "cc:")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	f := newFixture(t, "")

	out, err := execute(t, "--config", f.path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")

	var shown struct {
		Watch struct {
			Dir string `yaml:"dir"`
		} `yaml:"watch"`
		SMTP struct {
			Timeout string `yaml:"timeout"`
		} `yaml:"smtp"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, f.dirs.Watch, shown.Watch.Dir)
	assert.Equal(t, "10s", shown.SMTP.Timeout)
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	f := newFixture(t, "")
	t.Setenv("DOCRELAY_SMTP_HOST", "relay.override.example")

	out, err := execute(t, "--config", f.path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "relay.override.example")
}

func TestLogLevelFlag(t *testing.T) {
	f := newFixture(t, "")

	out, err := execute(t, "--config", f.path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")

	out, err = execute(t, "--config", f.path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: info")

	_, err = execute(t, "--config", f.path, "--log-level", "loud", "config", "show")
	assert.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	f := newFixture(t, "")

	ledger, err := audit.Open(f.dbPath, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ledger.Insert(ctx, intake.Outcome{EventID: "a", OriginalName: "WIRE_1.pdf", Status: intake.StatusNotified, Template: "WireTransfer"}))
	require.NoError(t, ledger.Insert(ctx, intake.Outcome{EventID: "b", OriginalName: "junk.pdf", Status: intake.StatusRejected, Reason: intake.ReasonNoTemplate}))
	require.NoError(t, ledger.Close())

	out, err := execute(t, "--config", f.path, "audit", "--recent", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents recorded")
	assert.Contains(t, out, "no_template")
	assert.Contains(t, out, audit.HashName("WIRE_1.pdf"))
	assert.NotContains(t, out, "WIRE_1.pdf")

	out, err = execute(t, "--config", f.path, "audit", "--format", "json")
	require.NoError(t, err)
	var report auditReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Counts[intake.StatusNotified])
	assert.Empty(t, report.Recent)
}

func TestAuditCommandNeedsDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrelay.yml")
	require.NoError(t, os.WriteFile(path, []byte("watch:\n  dir: /srv/scans\n"), 0o600))

	_, err := execute(t, "--config", path, "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.db_path")
}
