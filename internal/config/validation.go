package config

import (
	"fmt"
	"net"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/docrelay/internal/classify"
	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
)

// ValidationResult holds the result of configuration validation.
type ValidationResult struct {
	Errors   docerrors.ValidationErrorCollection
	Warnings []string
}

// HasErrors returns true if there are any validation errors.
func (vr *ValidationResult) HasErrors() bool {
	return vr.Errors.HasErrors()
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted list of all validation issues.
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if vr.HasErrors() {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field(), strings.TrimPrefix(err.Error(),
				fmt.Sprintf("validation error in field '%s': ", err.Field()))))
			for _, suggestion := range err.Suggestions() {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	if vr.HasWarnings() {
		builder.WriteString("Validation warnings:\n")
		for _, w := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s\n", w))
		}
	}

	return builder.String()
}

func (vr *ValidationResult) warn(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks every section and compiles the templates into cfg.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validatePaths(cfg, result)
	validateSMTP(&cfg.SMTP, result)
	validateMail(&cfg.Mail, result)
	validateIntake(&cfg.Intake, result)
	validateSupervisor(&cfg.Supervisor, result)
	validateLogging(&cfg.Logging, result)
	validateMonitoring(cfg, result)
	cfg.compiled = compileTemplates(cfg.Templates, result)

	return result
}

func validatePaths(cfg *Config, result *ValidationResult) {
	if cfg.Watch.Dir == "" {
		result.Errors.AddField("watch.dir", "", "watch directory is required",
			"Set DOCRELAY_WATCH_DIR or watch.dir in the config file")
	}
	if cfg.Staging.Dir == "" {
		result.Errors.AddField("staging.dir", "", "staging directory is required")
	}
	if cfg.Watch.Dir == "" || cfg.Staging.Dir == "" {
		return
	}

	watch, _ := filepath.Abs(cfg.Watch.Dir)
	staging, _ := filepath.Abs(cfg.Staging.Dir)
	if watch == staging {
		result.Errors.AddField("staging.dir", cfg.Staging.Dir, "staging directory must differ from the watch directory")
	} else if filepath.Dir(staging) == watch {
		result.warn("staging.dir sits directly inside the watch directory; its subdirectories will show up as watch events")
	}
	if cfg.Staging.CopyAttempts < 1 {
		result.Errors.AddField("staging.copy_attempts", cfg.Staging.CopyAttempts, "must be at least 1")
	}
	if cfg.Staging.RemoveAttempts < 1 {
		result.Errors.AddField("staging.remove_attempts", cfg.Staging.RemoveAttempts, "must be at least 1")
	}
}

func validateSMTP(c *SMTPConfig, result *ValidationResult) {
	if c.Host == "" {
		result.Errors.AddField("smtp.host", "", "SMTP host is required")
	} else if strings.ContainsAny(c.Host, " /;") {
		result.Errors.AddField("smtp.host", c.Host, "SMTP host is not a hostname")
	}
	if c.Port < 1 || c.Port > 65535 {
		result.Errors.AddField("smtp.port", c.Port, "SMTP port must be a valid port number",
			"Use 587 for STARTTLS or 465 for implicit TLS")
	} else if c.Port == 25 {
		result.warn("smtp.port 25 usually offers no STARTTLS; delivery will fail because TLS is mandatory")
	}
	if (c.Username == "") != (c.Password == "") {
		result.warn("smtp.username and smtp.password should be set together; authentication is skipped otherwise")
	}
	if c.Timeout <= 0 {
		result.Errors.AddField("smtp.timeout", c.Timeout, "must be positive")
	}
}

func validateMail(c *MailConfig, result *ValidationResult) {
	if c.From == "" {
		result.Errors.AddField("mail.from", "", "sender address is required")
	} else if _, err := mail.ParseAddress(c.From); err != nil {
		result.Errors.AddField("mail.from", c.From, "sender address is not valid")
	}
	if c.Domain == "" {
		result.Errors.AddField("mail.domain", "", "email domain is required for CC addresses")
	} else if strings.ContainsAny(c.Domain, "@ ") {
		result.Errors.AddField("mail.domain", c.Domain, "email domain must be a bare domain",
			"Use example.com, not user@example.com")
	}
	if len(c.AlertTo) == 0 {
		result.warn("mail.alert_to is empty; operational alerts are only logged")
	}
	for _, addr := range c.AlertTo {
		if _, err := mail.ParseAddress(addr); err != nil {
			result.Errors.AddField("mail.alert_to", logging.MaskEmail(addr), "alert recipient is not a valid address")
		}
	}
	if c.SendAttempts < 1 {
		result.Errors.AddField("mail.send_attempts", c.SendAttempts, "must be at least 1")
	}
}

func validateIntake(c *IntakeConfig, result *ValidationResult) {
	if c.QueueCapacity < 1 {
		result.Errors.AddField("intake.queue_capacity", c.QueueCapacity, "must be at least 1")
	}
	if c.HighWatermark >= c.QueueCapacity && c.QueueCapacity > 0 {
		result.warn("intake.high_watermark %d is not below queue_capacity %d; the queue alert will never fire",
			c.HighWatermark, c.QueueCapacity)
	}
	if c.Workers < 1 {
		result.Errors.AddField("intake.workers", c.Workers, "must be at least 1")
	}
	if c.DedupHorizon <= 0 {
		result.Errors.AddField("intake.dedup_horizon", c.DedupHorizon, "must be positive")
	}
	if c.RateLimit < 0 {
		result.Errors.AddField("intake.rate_limit", c.RateLimit, "must not be negative", "Use 0 to disable rate limiting")
	}
	if c.RateInterval <= 0 {
		result.Errors.AddField("intake.rate_interval", c.RateInterval, "must be positive")
	}
	if c.MaxAttachmentMB < 1 {
		result.Errors.AddField("intake.max_attachment_mb", c.MaxAttachmentMB, "must be at least 1")
	}
	if !strings.Contains(c.RenameFormat, "{base}") || !strings.Contains(c.RenameFormat, "{timestamp}") {
		result.Errors.AddField("intake.rename_format", c.RenameFormat,
			"rename format must contain {base} and {timestamp} placeholders",
			"Example: {base}_{timestamp}.pdf")
	}
	if strings.ContainsAny(c.RenameFormat, `/\`) {
		result.Errors.AddField("intake.rename_format", c.RenameFormat, "rename format must not contain path separators")
	}
}

func validateSupervisor(c *SupervisorConfig, result *ValidationResult) {
	if c.StartAttempts < 1 {
		result.Errors.AddField("supervisor.start_attempts", c.StartAttempts, "must be at least 1")
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"supervisor.alive_interval", c.AliveInterval},
		{"supervisor.cleanup_interval", c.CleanupInterval},
		{"supervisor.resource_interval", c.ResourceInterval},
		{"supervisor.shutdown_timeout", c.ShutdownTimeout},
	} {
		if f.d <= 0 {
			result.Errors.AddField(f.name, f.d, "must be positive")
		}
	}
}

func validateLogging(c *LoggingConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		result.Errors.AddField("logging.level", c.Level, err.Error())
	}
	if c.Format != "text" && c.Format != "json" {
		result.Errors.AddField("logging.format", c.Format, "log format must be text or json")
	}
}

func validateMonitoring(cfg *Config, result *ValidationResult) {
	if cfg.Monitoring.MemoryThresholdMB <= 0 {
		result.Errors.AddField("monitoring.memory_threshold_mb", cfg.Monitoring.MemoryThresholdMB, "must be positive")
	}
	if cfg.Monitoring.MaxLogBytes <= 0 {
		result.Errors.AddField("monitoring.max_log_bytes", cfg.Monitoring.MaxLogBytes, "must be positive")
	}
	if cfg.Status.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Status.Addr); err != nil {
			result.Errors.AddField("status.addr", cfg.Status.Addr, "status address must be host:port",
				"Use 127.0.0.1:8089 to keep the endpoint local")
		}
	}
	if cfg.Audit.DBPath != "" && cfg.Audit.Retention < 0 {
		result.Errors.AddField("audit.retention", cfg.Audit.Retention, "must not be negative", "Use 0 to keep every entry")
	}
}

func compileTemplates(configs []TemplateConfig, result *ValidationResult) []classify.Template {
	if len(configs) == 0 {
		result.Errors.AddField("templates", nil, "at least one document template is required",
			"Add a templates list to the config file or set WIRE_XFER_PDF_PATTERN")
		return nil
	}

	seen := make(map[string]bool, len(configs))
	compiled := make([]classify.Template, 0, len(configs))
	for i, tc := range configs {
		field := fmt.Sprintf("templates[%d]", i)
		if tc.Name == "" {
			result.Errors.AddField(field+".name", "", "template name is required")
			continue
		}
		if seen[tc.Name] {
			result.Errors.AddField(field+".name", tc.Name, "duplicate template name")
			continue
		}
		seen[tc.Name] = true

		if tc.Pattern == "" {
			result.Errors.AddField(field+".pattern", "", "template "+tc.Name+" has no pattern")
			continue
		}

		if len(tc.Recipients) == 0 {
			result.Errors.AddField(field+".recipients", nil, "template "+tc.Name+" has no recipients")
			continue
		}
		bad := false
		for _, addr := range tc.Recipients {
			if _, err := mail.ParseAddress(addr); err != nil {
				result.Errors.AddField(field+".recipients", logging.MaskEmail(addr), "recipient is not a valid address")
				bad = true
			}
		}
		if bad {
			continue
		}

		tpl, err := classify.NewTemplate(tc.Name, tc.Pattern, tc.Recipients, tc.Subject, tc.Body)
		if err != nil {
			result.Errors.AddField(field, tc.Name, err.Error())
			continue
		}
		compiled = append(compiled, tpl)
	}

	for _, o := range classify.CheckOverlaps(compiled, classify.OverlapProbe) {
		result.warn("potential pattern overlap between templates %s and %s", o.First, o.Second)
	}
	return compiled
}
