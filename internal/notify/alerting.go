package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/docrelay/internal/logging"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Well-known alert names. Cooldowns are tracked per name.
const (
	AlertQueueFull       = "queue_full"
	AlertQueueHigh       = "queue_high_watermark"
	AlertLowDisk         = "low_disk_space"
	AlertResourceUsage   = "resource_usage"
	AlertStarted         = "service_started"
	AlertStopped         = "service_stopped"
	AlertStartFailed     = "service_start_failed"
	AlertWatcherFailure  = "watcher_restart_failed"
	AlertUnexpectedError = "service_error"
)

// Alert is an operational notice for the operators.
type Alert struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Level     AlertLevel        `json:"level"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Component string            `json:"component"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// AlertChannel defines how alerts are delivered.
type AlertChannel interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Alerter raises alerts without blocking.
type Alerter interface {
	Raise(alert Alert)
}

// AlertManager delivers alerts to its channels from a background goroutine,
// so Raise never blocks the caller. When the backlog is full the alert is
// dropped and counted.
type AlertManager struct {
	channels  []AlertChannel
	cooldowns map[string]time.Duration
	lastSent  map[string]time.Time
	logger    logging.Logger
	now       func() time.Time
	mutex     sync.Mutex

	backlog chan Alert
	dropped atomic.Int64
	sent    atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	done    chan struct{}
}

// NewAlertManager creates a manager with room for backlog pending alerts.
func NewAlertManager(logger logging.Logger, backlog int) *AlertManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if backlog <= 0 {
		backlog = 32
	}
	return &AlertManager{
		cooldowns: make(map[string]time.Duration),
		lastSent:  make(map[string]time.Time),
		logger:    logger.WithComponent("alert_manager"),
		now:       time.Now,
		backlog:   make(chan Alert, backlog),
		done:      make(chan struct{}),
	}
}

// AddChannel adds an alert delivery channel. Call before Start.
func (am *AlertManager) AddChannel(channel AlertChannel) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.channels = append(am.channels, channel)
	am.logger.Info(context.Background(), "Alert channel added", "channel", channel.Name())
}

// SetCooldown suppresses repeats of the named alert within d.
func (am *AlertManager) SetCooldown(name string, d time.Duration) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.cooldowns[name] = d
}

// Start launches the delivery goroutine.
func (am *AlertManager) Start(ctx context.Context) {
	am.wg.Add(1)
	go func() {
		defer am.wg.Done()
		for {
			select {
			case alert := <-am.backlog:
				am.deliver(ctx, alert)
			case <-am.done:
				am.drain(ctx)
				return
			}
		}
	}()
}

// Stop delivers what is already queued and waits for the goroutine to exit.
func (am *AlertManager) Stop() {
	am.once.Do(func() { close(am.done) })
	am.wg.Wait()
}

func (am *AlertManager) drain(ctx context.Context) {
	for {
		select {
		case alert := <-am.backlog:
			am.deliver(ctx, alert)
		default:
			return
		}
	}
}

// Raise implements Alerter.
func (am *AlertManager) Raise(alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = am.now()
	}
	if alert.Level == "" {
		alert.Level = AlertLevelWarning
	}

	if !am.admit(alert) {
		am.logger.Debug(context.Background(), "Alert suppressed by cooldown", "alert", alert.Name)
		return
	}

	select {
	case am.backlog <- alert:
	default:
		am.dropped.Add(1)
		am.logger.Warn(context.Background(), nil, "Alert backlog full, alert dropped", "alert", alert.Name)
	}
}

func (am *AlertManager) admit(alert Alert) bool {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	cooldown, ok := am.cooldowns[alert.Name]
	if !ok || cooldown <= 0 {
		return true
	}
	if last, seen := am.lastSent[alert.Name]; seen && alert.Timestamp.Sub(last) < cooldown {
		return false
	}
	am.lastSent[alert.Name] = alert.Timestamp
	return true
}

func (am *AlertManager) deliver(ctx context.Context, alert Alert) {
	am.mutex.Lock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mutex.Unlock()

	for _, ch := range channels {
		if err := ch.Send(ctx, alert); err != nil {
			am.logger.Error(ctx, err, "Failed to send alert",
				"channel", ch.Name(),
				"alert", alert.Name)
		}
	}
	am.sent.Add(1)
}

// Stats reports delivered and dropped alert counts.
func (am *AlertManager) Stats() (delivered, dropped int64) {
	return am.sent.Load(), am.dropped.Load()
}

// LogChannel writes alerts to the log.
type LogChannel struct {
	logger logging.Logger
}

// NewLogChannel creates a log-based alert channel.
func NewLogChannel(logger logging.Logger) *LogChannel {
	return &LogChannel{
		logger: logger.WithComponent("alert_channel"),
	}
}

// Send implements AlertChannel.
func (lc *LogChannel) Send(ctx context.Context, alert Alert) error {
	switch alert.Level {
	case AlertLevelCritical:
		lc.logger.Error(ctx, nil, alert.Subject,
			"alert_id", alert.ID,
			"alert", alert.Name,
			"detail", alert.Message)
	case AlertLevelWarning:
		lc.logger.Warn(ctx, nil, alert.Subject,
			"alert_id", alert.ID,
			"alert", alert.Name,
			"detail", alert.Message)
	default:
		lc.logger.Info(ctx, alert.Subject,
			"alert_id", alert.ID,
			"alert", alert.Name)
	}

	return nil
}

// Name implements AlertChannel.
func (lc *LogChannel) Name() string {
	return "log"
}

// EmailChannel mails alerts to the operations recipients.
type EmailChannel struct {
	sender     Sender
	recipients []string
}

// NewEmailChannel creates an email alert channel.
func NewEmailChannel(sender Sender, recipients []string) *EmailChannel {
	return &EmailChannel{sender: sender, recipients: recipients}
}

// Send implements AlertChannel.
func (ec *EmailChannel) Send(ctx context.Context, alert Alert) error {
	if len(ec.recipients) == 0 {
		return nil
	}
	return ec.sender.Send(ctx, Message{
		To:      ec.recipients,
		Subject: alert.Subject,
		Body:    alert.Message,
	})
}

// Name implements AlertChannel.
func (ec *EmailChannel) Name() string {
	return "email"
}
