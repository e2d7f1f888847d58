package intake

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conneroisu/docrelay/internal/classify"
	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/sidecar"
	"github.com/conneroisu/docrelay/internal/staging"
	"github.com/conneroisu/docrelay/internal/validation"
)

// DefaultMaxAttachment is the largest PDF sent as an attachment.
const DefaultMaxAttachment int64 = 10 << 20

// DefaultLargeFileNote is appended to the body when the PDF is not attached.
const DefaultLargeFileNote = "\nFile too large to attach; please access it at [alternative location]."

// Status is the final state of one pipeline run.
type Status string

const (
	StatusNotified Status = "notified"
	// StatusIgnored is a deliberate skip: duplicate or rate limited.
	StatusIgnored Status = "ignored"
	// StatusRejected covers security and business-data problems.
	StatusRejected Status = "rejected"
	// StatusFailed covers I/O, delivery and internal failures.
	StatusFailed Status = "failed"
)

// Reason tags why a run ended early.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDuplicate       Reason = "duplicate"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonPathTraversal   Reason = "path_traversal"
	ReasonWorkspaceFailed Reason = "workspace_failed"
	ReasonCopyFailed      Reason = "copy_failed"
	ReasonInvalidPDF      Reason = "invalid_pdf"
	ReasonNoTemplate      Reason = "no_template"
	ReasonAmbiguous       Reason = "ambiguous_template"
	ReasonDeliveryFailed  Reason = "delivery_failed"
	ReasonPanic           Reason = "panic"
)

// StageResult is what each pipeline stage returns. The zero value means
// continue with the next stage.
type StageResult struct {
	Status Status
	Reason Reason
	Err    error
}

// Done reports whether the run stops here.
func (r StageResult) Done() bool { return r.Status != "" }

func proceed() StageResult { return StageResult{} }

func stop(status Status, reason Reason, err error) StageResult {
	return StageResult{Status: status, Reason: reason, Err: err}
}

// Outcome describes one finished pipeline run. File names are masked.
type Outcome struct {
	EventID    string        `json:"event_id"`
	File       string        `json:"file"`
	Template   string        `json:"template,omitempty"`
	Candidates []string      `json:"candidates,omitempty"`
	Status     Status        `json:"status"`
	Reason     Reason        `json:"reason,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attached   bool          `json:"attached"`
	CC         bool          `json:"cc"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`

	// OriginalName is the unmasked name, kept out of JSON. Sinks that
	// persist it must hash it.
	OriginalName string `json:"-"`
}

// OutcomeSink receives every outcome. Record is called from worker
// goroutines and must be safe for concurrent use.
type OutcomeSink interface {
	Record(Outcome)
}

// PDFValidator checks a staged PDF.
type PDFValidator interface {
	Validate(path string) error
}

// CCResolver derives an optional CC address for a staged PDF.
type CCResolver interface {
	ResolveNotificationCC(pdfPath string, opts ...sidecar.ResolveOption) (string, bool)
}

// PipelineConfig holds the per-file processing settings.
type PipelineConfig struct {
	WatchDir      string
	RenameFormat  string
	MaxAttachment int64
	LargeFileNote string
}

// Pipeline runs the ordered stages for one event.
type Pipeline struct {
	cfg       PipelineConfig
	staging   *staging.Manager
	validator PDFValidator
	matcher   *classify.Matcher
	enricher  CCResolver
	sender    notify.Sender
	recent    *RecentFiles
	rate      *RateWindow
	logger    logging.Logger
	now       func() time.Time
}

// run is the mutable state of one event, owned by one worker.
type run struct {
	ev            FileEvent
	name          string
	stagedName    string
	ws            *staging.Workspace
	pdfPath       string
	sidecarSource string
	sidecarStaged string
	class         classify.Classification
	subject       string
	cc            string
	attached      bool
	logger        logging.Logger
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) StageResult
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"admission", p.admit},
		{"path_safety", p.checkPath},
		{"stage", p.stage},
		{"sidecar", p.stageSidecar},
		{"validate", p.validate},
		{"classify", p.classify},
		{"subject", p.buildSubject},
		{"enrich", p.enrich},
		{"dispatch", p.dispatch},
		{"bookkeeping", p.bookkeep},
	}
}

// Run processes ev through every stage in order and always removes the
// workspace before returning.
func (p *Pipeline) Run(ctx context.Context, ev FileEvent) (out Outcome) {
	start := p.now()
	r := &run{ev: ev, name: filepath.Base(ev.Path)}
	r.logger = p.logger.With("event_id", ev.ID, "file", logging.MaskFilename(r.name))

	out = Outcome{
		EventID:      ev.ID,
		File:         logging.MaskFilename(r.name),
		OriginalName: r.name,
	}

	defer func() {
		p.cleanup(ctx, r)
		out.Duration = p.now().Sub(start)
		out.FinishedAt = p.now()
	}()

	for _, s := range p.stages() {
		res := s.fn(ctx, r)
		if !res.Done() {
			continue
		}
		out.Status = res.Status
		out.Reason = res.Reason
		out.Stage = s.name
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		break
	}
	if out.Status == "" {
		out.Status = StatusNotified
	}

	out.Template = r.class.Template.Name
	out.Candidates = r.class.Candidates
	out.Attached = r.attached
	out.CC = r.cc != ""
	return out
}

// admission is read-only: nothing is recorded until a send succeeds.
func (p *Pipeline) admit(ctx context.Context, r *run) StageResult {
	if p.recent.Seen(r.name) {
		r.logger.Info(ctx, "Ignored recently processed file")
		return stop(StatusIgnored, ReasonDuplicate, nil)
	}
	if !p.rate.Allow() {
		r.logger.Warn(ctx, nil, "Email rate limit exceeded")
		return stop(StatusIgnored, ReasonRateLimited, nil)
	}
	return proceed()
}

func (p *Pipeline) checkPath(ctx context.Context, r *run) StageResult {
	if err := validation.WithinRoot(p.cfg.WatchDir, r.ev.Path); err != nil {
		logging.LogSecurityEvent(ctx, r.logger, "path_traversal", map[string]interface{}{
			"file": logging.MaskFilename(r.name),
		})
		return stop(StatusRejected, ReasonPathTraversal, err)
	}
	return proceed()
}

func (p *Pipeline) stage(ctx context.Context, r *run) StageResult {
	r.stagedName = staging.StagedName(p.cfg.RenameFormat, r.name, p.now())

	ws, err := p.staging.Create()
	if err != nil {
		r.logger.Error(ctx, err, "Failed to create workspace")
		return stop(StatusFailed, ReasonWorkspaceFailed, err)
	}
	r.ws = ws

	path, err := ws.Stage(ctx, r.ev.Path, r.stagedName, 0o600)
	if err != nil {
		r.logger.Error(ctx, err, "Failed to copy file")
		return stop(StatusFailed, ReasonCopyFailed, err)
	}
	r.pdfPath = path
	r.logger.Info(ctx, "Copied PDF to workspace", "staged", logging.MaskFilename(r.stagedName))
	return proceed()
}

// stageSidecar never stops the run; a missing or uncopyable sidecar only
// loses the CC.
func (p *Pipeline) stageSidecar(ctx context.Context, r *run) StageResult {
	src, ok := sidecar.Locate(r.ev.Path)
	if !ok {
		return proceed()
	}

	dst, err := r.ws.Stage(ctx, src, staging.SidecarName(r.stagedName, src), 0o600)
	if err != nil {
		r.logger.Warn(ctx, err, "Failed to copy sidecar")
		return proceed()
	}
	r.sidecarSource = src
	r.sidecarStaged = dst
	r.logger.Info(ctx, "Copied sidecar to workspace")
	return proceed()
}

func (p *Pipeline) validate(ctx context.Context, r *run) StageResult {
	if err := p.validator.Validate(r.pdfPath); err != nil {
		r.logger.Warn(ctx, err, "Staged file is not a valid PDF, skipping")
		return stop(StatusRejected, ReasonInvalidPDF, err)
	}
	return proceed()
}

func (p *Pipeline) classify(ctx context.Context, r *run) StageResult {
	r.class = p.matcher.Classify(r.stagedName)
	switch r.class.Kind {
	case classify.NoMatch:
		r.logger.Warn(ctx, nil, "No matching template found")
		return stop(StatusRejected, ReasonNoTemplate, r.class.Err())
	case classify.Ambiguous:
		r.logger.Warn(ctx, nil, "Multiple template matches", "templates", r.class.Candidates)
		return stop(StatusRejected, ReasonAmbiguous, r.class.Err())
	}
	r.logger = r.logger.With("template", r.class.Template.Name)
	return proceed()
}

func (p *Pipeline) buildSubject(_ context.Context, r *run) StageResult {
	r.subject = r.class.Template.Subject(r.class.Groups)
	return proceed()
}

func (p *Pipeline) enrich(ctx context.Context, r *run) StageResult {
	if r.sidecarStaged == "" || p.enricher == nil {
		return proceed()
	}
	if cc, ok := p.enricher.ResolveNotificationCC(r.pdfPath, sidecar.WithCacheKey(r.sidecarSource)); ok {
		r.cc = cc
		r.logger.Info(ctx, "Extracted submitter address for CC")
	}
	return proceed()
}

func (p *Pipeline) dispatch(ctx context.Context, r *run) StageResult {
	info, err := os.Stat(r.pdfPath)
	if err != nil {
		err = docerrors.WrapIO(err, docerrors.ErrCodeAttachFailed, "staged PDF vanished")
		r.logger.Error(ctx, err, "Cannot size staged PDF")
		return stop(StatusFailed, ReasonDeliveryFailed, err)
	}

	msg := notify.Message{
		To:      r.class.Template.Recipients,
		Subject: r.subject,
		Body:    r.class.Template.Body,
	}
	if r.cc != "" {
		msg.Cc = []string{r.cc}
	}

	if info.Size() > p.cfg.MaxAttachment {
		r.logger.Warn(ctx, nil, "File exceeds attachment size limit",
			"size", humanize.IBytes(uint64(info.Size())),
			"limit", humanize.IBytes(uint64(p.cfg.MaxAttachment)))
		msg.Body += p.cfg.LargeFileNote
	} else {
		msg.AttachmentPath = r.pdfPath
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		return stop(StatusFailed, ReasonDeliveryFailed, err)
	}
	r.attached = msg.AttachmentPath != ""
	r.logger.Info(ctx, "Notification sent", "attached", r.attached)
	return proceed()
}

func (p *Pipeline) bookkeep(_ context.Context, r *run) StageResult {
	p.recent.Record(r.name)
	p.rate.Record()
	return proceed()
}

func (p *Pipeline) cleanup(ctx context.Context, r *run) {
	if r.ws == nil {
		return
	}
	if err := r.ws.Release(ctx); err != nil {
		r.logger.Error(ctx, err, "Failed to delete workspace")
		return
	}
	r.logger.Debug(ctx, "Deleted workspace")
}
