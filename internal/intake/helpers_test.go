package intake

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docrelay/internal/classify"
	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/pdf"
	"github.com/conneroisu/docrelay/internal/sidecar"
	"github.com/conneroisu/docrelay/internal/staging"
	"github.com/conneroisu/docrelay/internal/testutils"
)

type sentMessage struct {
	notify.Message
	attachmentSize int64
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	fail    bool
	panics  bool
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("transport exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("relay unavailable")
	}
	sm := sentMessage{Message: msg, attachmentSize: -1}
	if msg.AttachmentPath != "" {
		info, err := os.Stat(msg.AttachmentPath)
		if err != nil {
			return err
		}
		sm.attachmentSize = info.Size()
	}
	f.sent = append(f.sent, sm)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingAlerter) Raise(a notify.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Name
	}
	return out
}

type outcomeCollector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *outcomeCollector) Record(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *outcomeCollector) all() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.outcomes...)
}

type harness struct {
	dirs    testutils.Dirs
	ctrl    *Controller
	sender  *fakeSender
	alerts  *recordingAlerter
	staging *staging.Manager
}

type harnessOption func(*Config, *[]staging.Option, *[]classify.Template)

func withConfig(fn func(*Config)) harnessOption {
	return func(c *Config, _ *[]staging.Option, _ *[]classify.Template) { fn(c) }
}

func withCopyFunc(fn staging.CopyFunc) harnessOption {
	return func(_ *Config, o *[]staging.Option, _ *[]classify.Template) {
		*o = append(*o, staging.WithCopyFunc(fn))
	}
}

func withTemplates(tpls ...classify.Template) harnessOption {
	return func(_ *Config, _ *[]staging.Option, t *[]classify.Template) { *t = tpls }
}

func wireTemplate(t *testing.T) classify.Template {
	t.Helper()
	tpl, err := classify.NewTemplate("WireTransfer", `^WIRE_(\d+)`,
		[]string{"wires@corp.example"}, "Wire Transfer Form {}", "A new wire transfer form arrived.")
	require.NoError(t, err)
	return tpl
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	dirs := testutils.NewDirs(t)

	cfg := Config{
		WatchDir:     dirs.Watch,
		PollInterval: 10 * time.Millisecond,
	}
	stagingOpts := []staging.Option{
		staging.WithCopyRetry(staging.RetryPolicy{Attempts: 5, Backoff: time.Millisecond}),
		staging.WithRemoveRetry(staging.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
	}
	templates := []classify.Template{wireTemplate(t)}
	for _, opt := range opts {
		opt(&cfg, &stagingOpts, &templates)
	}

	sm, err := staging.NewManager(dirs.Staging, nil, stagingOpts...)
	require.NoError(t, err)

	h := &harness{
		dirs:    dirs,
		sender:  &fakeSender{},
		alerts:  &recordingAlerter{},
		staging: sm,
	}
	h.ctrl, err = NewController(cfg, Deps{
		Staging:   sm,
		Validator: pdf.NewValidator(),
		Matcher:   classify.NewMatcher(templates),
		Enricher:  sidecar.NewExtractor("corp.example", nil),
		Sender:    h.sender,
		Alerts:    h.alerts,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, path string) Outcome {
	t.Helper()
	return h.ctrl.pipeline.Run(context.Background(), FileEvent{ID: "evt-" + t.Name(), Path: path, DiscoveredAt: time.Now()})
}
