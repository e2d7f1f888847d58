package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docrelay/internal/logging"
)

const validYAML = `
watch:
  dir: /srv/scans/inbox
staging:
  dir: /var/tmp/docrelay
smtp:
  host: smtp.corp.example
  port: 465
  username: relay
  password: hunter2
mail:
  from: docrelay@corp.example
  domain: corp.example
  alert_to: [ops@corp.example]
intake:
  workers: 8
  max_attachment_mb: 20
logging:
  level: debug
templates:
  - name: WireTransfer
    pattern: '^WIRE_(\d+)_'
    recipients: [wires@corp.example]
    subject: 'Wire Transfer Form {}'
    body: A new wire transfer form arrived.
  - name: DebitLimit
    pattern: '^DCLIMIT_(\d+)_'
    recipients: [cards@corp.example, risk@corp.example]
    subject: 'Debit Limit Change {0}'
    body: A debit limit form arrived.
`

func noEnv(string) string { return "" }

func fakeEnv(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func viperFromYAML(t *testing.T, content string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docrelay.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFrom(viperFromYAML(t, validYAML), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "/srv/scans/inbox", cfg.Watch.Dir)
	assert.Equal(t, 465, cfg.SMTP.Port)
	assert.Equal(t, []string{"ops@corp.example"}, cfg.Mail.AlertTo)
	assert.Equal(t, 8, cfg.Intake.Workers)
	assert.Equal(t, int64(20), cfg.Intake.MaxAttachmentMB)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())

	// defaults
	assert.Equal(t, 100, cfg.Intake.QueueCapacity)
	assert.Equal(t, 50, cfg.Intake.HighWatermark)
	assert.Equal(t, time.Hour, cfg.Intake.DedupHorizon)
	assert.Equal(t, 60, cfg.Intake.RateLimit)
	assert.Equal(t, "{base}_{timestamp}.pdf", cfg.Intake.RenameFormat)
	assert.Equal(t, 5, cfg.Staging.CopyAttempts)
	assert.Equal(t, 3, cfg.Mail.SendAttempts)
	assert.Equal(t, 2*time.Second, cfg.Mail.SendBackoff)
	assert.Equal(t, 5*time.Minute, cfg.Sidecar.FailureCooldown)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.AliveInterval)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.StartBackoff)
	assert.Equal(t, 500.0, cfg.Monitoring.MemoryThresholdMB)

	tpls := cfg.CompiledTemplates()
	require.Len(t, tpls, 2)
	assert.Equal(t, "WireTransfer", tpls[0].Name)
	assert.Equal(t, []string{"cards@corp.example", "risk@corp.example"}, tpls[1].Recipients)
	assert.True(t, tpls[0].Pattern.MatchString("WIRE_42_20250529_101010.pdf"))
	assert.Empty(t, cfg.Warnings())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DOCRELAY_SMTP_PORT", "587")
	t.Setenv("DOCRELAY_INTAKE_WORKERS", "2")
	t.Setenv("DOCRELAY_MAIL_ALERT_TO", "a@corp.example,b@corp.example")

	v := viperFromYAML(t, validYAML)
	ConfigureEnv(v)
	cfg, err := LoadFrom(v, noEnv)
	require.NoError(t, err)

	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 2, cfg.Intake.Workers)
	assert.Equal(t, []string{"a@corp.example", "b@corp.example"}, cfg.Mail.AlertTo)
}

func TestLegacyEnvironment(t *testing.T) {
	env := fakeEnv(map[string]string{
		"PDF_WATCH_DIRECTORY":                "/srv/legacy/inbox",
		"PDF_WATCHER_TEMP_DIR":               "/srv/legacy/tmp",
		"SMTP_DOMAIN":                        "mail.corp.example",
		"SMTP_PORT":                          "2525",
		"OPCON_ALERT_EMAIL":                  "alerts@corp.example",
		"ERROR_EMAIL_TO":                     "ops@corp.example, oncall@corp.example",
		"EMAIL_DOMAIN":                       "CORP.EXAMPLE",
		"CLEANUP_INTERVAL":                   "600",
		"PDF_WATCHER_LOG_DIRECTORY":          "/var/log/pdf-watcher/service.log",
		"PDF_WATCHER_RESOURCE_LOG_DIRECTORY": "/var/log/pdf-watcher/resources.csv",
		"WIRE_XFER_PDF_PATTERN":              `^WIRE_(\d+)_`,
		"WIRE_XFER_EMAIL_TO":                 "wires@corp.example",
		"WIRE_XFER_SUBJECT":                  "Wire {}",
		"WIRE_XFER_BODY":                     "New wire.",
		"DC_LIMIT_PDF_PATTERN":               `^DC_LIMIT_`,
		"DC_LIMIT_EMAIL_TO":                  "cards@corp.example,risk@corp.example",
		"DC_LIMIT_SUBJECT":                   "Debit limit",
		"DC_LIMIT_BODY":                      "New debit limit form.",
	})

	cfg, err := LoadFrom(viper.New(), env)
	require.NoError(t, err)

	assert.Equal(t, "/srv/legacy/inbox", cfg.Watch.Dir)
	assert.Equal(t, "/srv/legacy/tmp", cfg.Staging.Dir)
	assert.Equal(t, "mail.corp.example", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, "alerts@corp.example", cfg.Mail.From)
	assert.Equal(t, []string{"ops@corp.example", "oncall@corp.example"}, cfg.Mail.AlertTo)
	assert.Equal(t, "CORP.EXAMPLE", cfg.Mail.Domain)
	assert.Equal(t, 10*time.Minute, cfg.Supervisor.CleanupInterval)
	assert.Equal(t, "/var/log/pdf-watcher", cfg.Logging.Dir)
	assert.Equal(t, "/var/log/pdf-watcher/resources.csv", cfg.Monitoring.ResourceLog)

	tpls := cfg.CompiledTemplates()
	require.Len(t, tpls, 2)
	assert.Equal(t, "WireTransfer", tpls[0].Name)
	assert.Equal(t, "DebitLimit", tpls[1].Name)
	assert.Equal(t, []string{"cards@corp.example", "risk@corp.example"}, tpls[1].Recipients)
}

func TestFileTemplateShadowsLegacyTemplate(t *testing.T) {
	env := fakeEnv(map[string]string{
		"WIRE_XFER_PDF_PATTERN": `^OLD_`,
		"WIRE_XFER_EMAIL_TO":    "old@corp.example",
	})
	cfg, err := LoadFrom(viperFromYAML(t, validYAML), env)
	require.NoError(t, err)

	tpls := cfg.CompiledTemplates()
	require.Len(t, tpls, 2)
	assert.Equal(t, `^WIRE_(\d+)_`, tpls[0].Pattern.String())
}

func TestLoadCollectsErrors(t *testing.T) {
	_, err := LoadFrom(viperFromYAML(t, `
watch:
  dir: /srv/in
staging:
  dir: /srv/in
smtp:
  port: 70000
mail:
  from: not-an-address
  domain: user@corp.example
intake:
  rename_format: "{base}.pdf"
templates:
  - name: Broken
    pattern: '(['
    recipients: [x@corp.example]
`), noEnv)
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"staging.dir", "smtp.host", "smtp.port", "mail.from", "mail.domain",
		"intake.rename_format", "templates[0]",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg, err := LoadFrom(viperFromYAML(t, `
watch:
  dir: /srv/in
staging:
  dir: /srv/in/.staging
smtp:
  host: smtp.corp.example
  username: relay
mail:
  from: docrelay@corp.example
  domain: corp.example
intake:
  queue_capacity: 10
  high_watermark: 10
templates:
  - name: A
    pattern: 'sample'
    recipients: [a@corp.example]
  - name: B
    pattern: 'filename'
    recipients: [b@corp.example]
`), noEnv)
	require.NoError(t, err)

	warnings := cfg.Warnings()
	assert.Len(t, warnings, 5)
	assert.Contains(t, warnings, "potential pattern overlap between templates A and B")
}

func TestValidateRequiresTemplates(t *testing.T) {
	result := Validate(&Config{})
	require.True(t, result.HasErrors())
	assert.Contains(t, result.String(), "at least one document template is required")
}

func TestDuplicateTemplateNames(t *testing.T) {
	cfg := &Config{Templates: []TemplateConfig{
		{Name: "A", Pattern: "a", Recipients: []string{"a@corp.example"}},
		{Name: "A", Pattern: "b", Recipients: []string{"b@corp.example"}},
	}}
	result := Validate(cfg)
	assert.Contains(t, result.String(), "duplicate template name")
	assert.Len(t, cfg.CompiledTemplates(), 1)
}

func TestRedacted(t *testing.T) {
	cfg, err := LoadFrom(viperFromYAML(t, validYAML), noEnv)
	require.NoError(t, err)

	red := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", red.SMTP.Password)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
	assert.Empty(t, red.CompiledTemplates())
}

func TestResourceLogPath(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.ResourceLogPath())

	cfg.Monitoring.ResourceLog = filepath.Join("var", "log", "docrelay")
	assert.Equal(t, filepath.Join("var", "log", "docrelay", "resource_usage.csv"), cfg.ResourceLogPath())

	cfg.Monitoring.ResourceLog = filepath.Join("var", "log", "usage.csv")
	assert.Equal(t, filepath.Join("var", "log", "usage.csv"), cfg.ResourceLogPath())
}
