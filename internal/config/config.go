// Package config loads docrelay configuration through Viper from a YAML
// file, DOCRELAY_ environment variables, command-line flags and the
// environment names of the service docrelay replaces.
//
// Load applies defaults, validates every field, compiles the document
// templates and returns a Config that callers treat as read-only.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/docrelay/internal/classify"
	"github.com/conneroisu/docrelay/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. DOCRELAY_SMTP_HOST.
const EnvPrefix = "DOCRELAY"

type Config struct {
	Watch      WatchConfig      `mapstructure:"watch" yaml:"watch"`
	Staging    StagingConfig    `mapstructure:"staging" yaml:"staging"`
	SMTP       SMTPConfig       `mapstructure:"smtp" yaml:"smtp"`
	Mail       MailConfig       `mapstructure:"mail" yaml:"mail"`
	Sidecar    SidecarConfig    `mapstructure:"sidecar" yaml:"sidecar"`
	Intake     IntakeConfig     `mapstructure:"intake" yaml:"intake"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Templates  []TemplateConfig `mapstructure:"templates" yaml:"templates"`

	compiled []classify.Template
	warnings []string
}

type WatchConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type StagingConfig struct {
	Dir                 string        `mapstructure:"dir" yaml:"dir"`
	CopyAttempts        int           `mapstructure:"copy_attempts" yaml:"copy_attempts"`
	CopyBackoff         time.Duration `mapstructure:"copy_backoff" yaml:"copy_backoff"`
	RemoveAttempts      int           `mapstructure:"remove_attempts" yaml:"remove_attempts"`
	RemoveBackoff       time.Duration `mapstructure:"remove_backoff" yaml:"remove_backoff"`
	DiskFreeThresholdMB uint64        `mapstructure:"disk_free_threshold_mb" yaml:"disk_free_threshold_mb"`
}

type SMTPConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type MailConfig struct {
	From          string        `mapstructure:"from" yaml:"from"`
	Domain        string        `mapstructure:"domain" yaml:"domain"`
	AlertTo       []string      `mapstructure:"alert_to" yaml:"alert_to"`
	SendAttempts  int           `mapstructure:"send_attempts" yaml:"send_attempts"`
	SendBackoff   time.Duration `mapstructure:"send_backoff" yaml:"send_backoff"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown" yaml:"alert_cooldown"`
	AlertBacklog  int           `mapstructure:"alert_backlog" yaml:"alert_backlog"`
}

type SidecarConfig struct {
	FailureCooldown time.Duration `mapstructure:"failure_cooldown" yaml:"failure_cooldown"`
}

type IntakeConfig struct {
	QueueCapacity   int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	HighWatermark   int           `mapstructure:"high_watermark" yaml:"high_watermark"`
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	DedupHorizon    time.Duration `mapstructure:"dedup_horizon" yaml:"dedup_horizon"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateInterval    time.Duration `mapstructure:"rate_interval" yaml:"rate_interval"`
	MaxAttachmentMB int64         `mapstructure:"max_attachment_mb" yaml:"max_attachment_mb"`
	LargeFileNote   string        `mapstructure:"large_file_note" yaml:"large_file_note"`
	RenameFormat    string        `mapstructure:"rename_format" yaml:"rename_format"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type SupervisorConfig struct {
	StartAttempts    int           `mapstructure:"start_attempts" yaml:"start_attempts"`
	StartBackoff     time.Duration `mapstructure:"start_backoff" yaml:"start_backoff"`
	AliveInterval    time.Duration `mapstructure:"alive_interval" yaml:"alive_interval"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	ResourceInterval time.Duration `mapstructure:"resource_interval" yaml:"resource_interval"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type MonitoringConfig struct {
	ResourceLog       string        `mapstructure:"resource_log" yaml:"resource_log"`
	MaxLogBytes       int64         `mapstructure:"max_log_bytes" yaml:"max_log_bytes"`
	MemoryThresholdMB float64       `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
	AlertCooldown     time.Duration `mapstructure:"alert_cooldown" yaml:"alert_cooldown"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type AuditConfig struct {
	DBPath    string        `mapstructure:"db_path" yaml:"db_path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// TemplateConfig is one document template before compilation.
type TemplateConfig struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Pattern    string   `mapstructure:"pattern" yaml:"pattern"`
	Recipients []string `mapstructure:"recipients" yaml:"recipients"`
	Subject    string   `mapstructure:"subject" yaml:"subject"`
	Body       string   `mapstructure:"body" yaml:"body"`
}

// CompiledTemplates returns the validated templates in configured order.
func (c *Config) CompiledTemplates() []classify.Template {
	out := make([]classify.Template, len(c.compiled))
	copy(out, c.compiled)
	return out
}

// Warnings returns non-fatal findings from validation.
func (c *Config) Warnings() []string {
	return append([]string(nil), c.warnings...)
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() logging.LogLevel {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

// ResourceLogPath resolves Monitoring.ResourceLog. A value without an
// extension names a directory.
func (c *Config) ResourceLogPath() string {
	p := c.Monitoring.ResourceLog
	if p == "" || filepath.Ext(p) != "" {
		return p
	}
	return filepath.Join(p, "resource_usage.csv")
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.SMTP.Password != "" {
		out.SMTP.Password = "[REDACTED]"
	}
	out.compiled = nil
	out.warnings = nil
	return out
}

// SetDefaults registers every key with its default so environment
// variables reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("watch.dir", "")
	v.SetDefault("staging.dir", filepath.Join(os.TempDir(), "docrelay"))
	v.SetDefault("staging.copy_attempts", 5)
	v.SetDefault("staging.copy_backoff", time.Second)
	v.SetDefault("staging.remove_attempts", 3)
	v.SetDefault("staging.remove_backoff", time.Second)
	v.SetDefault("staging.disk_free_threshold_mb", 1024)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.timeout", 10*time.Second)

	v.SetDefault("mail.from", "")
	v.SetDefault("mail.domain", "")
	v.SetDefault("mail.alert_to", []string{})
	v.SetDefault("mail.send_attempts", 3)
	v.SetDefault("mail.send_backoff", 2*time.Second)
	v.SetDefault("mail.alert_cooldown", 0)
	v.SetDefault("mail.alert_backlog", 64)

	v.SetDefault("sidecar.failure_cooldown", 5*time.Minute)

	v.SetDefault("intake.queue_capacity", 100)
	v.SetDefault("intake.high_watermark", 50)
	v.SetDefault("intake.workers", 4)
	v.SetDefault("intake.dedup_horizon", time.Hour)
	v.SetDefault("intake.rate_limit", 60)
	v.SetDefault("intake.rate_interval", time.Minute)
	v.SetDefault("intake.max_attachment_mb", 10)
	v.SetDefault("intake.large_file_note", "\nFile too large to attach; please access it at [alternative location].")
	v.SetDefault("intake.rename_format", "{base}_{timestamp}.pdf")
	v.SetDefault("intake.poll_interval", time.Second)

	v.SetDefault("supervisor.start_attempts", 3)
	v.SetDefault("supervisor.start_backoff", 10*time.Second)
	v.SetDefault("supervisor.alive_interval", 500*time.Millisecond)
	v.SetDefault("supervisor.cleanup_interval", time.Hour)
	v.SetDefault("supervisor.resource_interval", 10*time.Second)
	v.SetDefault("supervisor.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "")

	v.SetDefault("monitoring.resource_log", "")
	v.SetDefault("monitoring.max_log_bytes", 5<<20)
	v.SetDefault("monitoring.memory_threshold_mb", 500.0)
	v.SetDefault("monitoring.alert_cooldown", 5*time.Minute)

	v.SetDefault("status.addr", "")
	v.SetDefault("audit.db_path", "")
	v.SetDefault("audit.retention", 30*24*time.Hour)
}

// ConfigureEnv enables DOCRELAY_<SECTION>_<KEY> overrides.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// legacyEnv maps environment names of the replaced service onto keys.
var legacyEnv = []struct {
	env, key string
}{
	{"PDF_WATCH_DIRECTORY", "watch.dir"},
	{"PDF_WATCHER_TEMP_DIR", "staging.dir"},
	{"SMTP_DOMAIN", "smtp.host"},
	{"SMTP_PORT", "smtp.port"},
	{"OPCON_ALERT_EMAIL", "mail.from"},
	{"ERROR_EMAIL_TO", "mail.alert_to"},
	{"EMAIL_DOMAIN", "mail.domain"},
	{"PDF_RENAME_FORMAT", "intake.rename_format"},
	{"CLEANUP_INTERVAL", "supervisor.cleanup_interval"},
	{"PDF_WATCHER_LOG_DIRECTORY", "logging.dir"},
	{"PDF_WATCHER_RESOURCE_LOG_DIRECTORY", "monitoring.resource_log"},
}

// legacyTemplates are the two env-configured templates of the replaced
// service, keyed by variable prefix.
var legacyTemplates = []struct {
	prefix, name string
}{
	{"WIRE_XFER", "WireTransfer"},
	{"DC_LIMIT", "DebitLimit"},
}

// ApplyLegacyEnv turns legacy variables into defaults, so DOCRELAY_
// variables, the config file and flags all take precedence over them.
func ApplyLegacyEnv(v *viper.Viper, getenv func(string) string) {
	for _, m := range legacyEnv {
		val := strings.TrimSpace(getenv(m.env))
		if val == "" {
			continue
		}
		switch m.key {
		case "mail.alert_to":
			v.SetDefault(m.key, splitList(val))
		case "supervisor.cleanup_interval":
			// seconds
			if n, err := strconv.Atoi(val); err == nil {
				v.SetDefault(m.key, time.Duration(n)*time.Second)
			} else {
				v.SetDefault(m.key, val)
			}
		case "logging.dir":
			// the old variable named a log file
			if filepath.Ext(val) != "" {
				val = filepath.Dir(val)
			}
			v.SetDefault(m.key, val)
		default:
			v.SetDefault(m.key, val)
		}
	}
}

func legacyTemplateConfigs(getenv func(string) string) []TemplateConfig {
	var out []TemplateConfig
	for _, lt := range legacyTemplates {
		pattern := getenv(lt.prefix + "_PDF_PATTERN")
		if pattern == "" {
			continue
		}
		out = append(out, TemplateConfig{
			Name:       lt.name,
			Pattern:    pattern,
			Recipients: splitList(getenv(lt.prefix + "_EMAIL_TO")),
			Subject:    getenv(lt.prefix + "_SUBJECT"),
			Body:       getenv(lt.prefix + "_BODY"),
		})
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper(), os.Getenv)
}

// LoadFrom unmarshals v, appends legacy env templates whose names are not
// already configured, applies defaults and validates.
func LoadFrom(v *viper.Viper, getenv func(string) string) (*Config, error) {
	cfg, result, err := Inspect(v, getenv)
	if err != nil {
		return nil, err
	}
	if result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", result.Errors.ToDocError())
	}
	cfg.warnings = result.Warnings
	return cfg, nil
}

// Inspect is LoadFrom without the verdict: it returns the decoded
// configuration with the full validation result. Only a decoding failure
// is returned as an error.
func Inspect(v *viper.Viper, getenv func(string) string) (*Config, *ValidationResult, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	SetDefaults(v)
	ApplyLegacyEnv(v, getenv)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decoding configuration: %w", err)
	}

	// slices set through the environment arrive as a single string
	if raw := v.GetString("mail.alert_to"); len(cfg.Mail.AlertTo) == 1 && strings.Contains(raw, ",") {
		cfg.Mail.AlertTo = splitList(raw)
	}

	configured := make(map[string]bool, len(cfg.Templates))
	for _, t := range cfg.Templates {
		configured[t.Name] = true
	}
	for _, t := range legacyTemplateConfigs(getenv) {
		if !configured[t.Name] {
			cfg.Templates = append(cfg.Templates, t)
		}
	}

	result := Validate(&cfg)
	cfg.warnings = result.Warnings
	return &cfg, result, nil
}
