// Package sidecar derives a notification CC address from the XML sidecar
// that imaging systems drop next to a scanned PDF.
package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
)

// DefaultFailureCooldown is how long a sidecar that failed to parse is
// skipped before it is tried again.
const DefaultFailureCooldown = 5 * time.Minute

// NameFields lists the field names probed for the submitter, in order.
// Matching is case-sensitive.
var NameFields = []string{
	"USER NAME", "USER_NAME", "UserName", "User Name",
	"USERNAME", "user_name", "username", "User",
	"SUBMITTER", "Submitter", "submitter",
	"SUBMITTED_BY", "SubmittedBy", "Submitted By",
}

var (
	disallowed = regexp.MustCompile(`[^A-Z0-9.]`)
	dotRuns    = regexp.MustCompile(`\.+`)
	upper      = cases.Upper(language.Und)
)

// Extractor resolves sidecar metadata. It is safe for concurrent use.
type Extractor struct {
	domain     string
	cooldown   time.Duration
	strategies []Strategy
	logger     logging.Logger
	now        func() time.Time

	mu       sync.Mutex
	failures map[string]time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCooldown overrides DefaultFailureCooldown.
func WithCooldown(d time.Duration) Option {
	return func(e *Extractor) { e.cooldown = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithStrategies replaces the default strategy order.
func WithStrategies(s []Strategy) Option {
	return func(e *Extractor) { e.strategies = s }
}

// NewExtractor creates an extractor that appends domain to derived addresses.
func NewExtractor(domain string, logger logging.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Extractor{
		domain:     domain,
		cooldown:   DefaultFailureCooldown,
		strategies: Strategies,
		logger:     logger.WithComponent("sidecar"),
		now:        time.Now,
		failures:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locate returns the sidecar next to pdfPath: same base name with a .xml or
// .XML extension.
func Locate(pdfPath string) (string, bool) {
	base := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath))
	for _, ext := range []string{".xml", ".XML"} {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// Parse reads path and merges every applicable strategy into one field map.
// Failures are remembered per path for the cooldown window.
func (e *Extractor) Parse(path string) (Fields, error) {
	return e.parse(path, path)
}

func (e *Extractor) parse(path, key string) (Fields, error) {
	ctx := context.Background()
	if e.recentlyFailed(key) {
		e.logger.Debug(ctx, "Skipping recently failed sidecar", "path", logging.MaskPath(path))
		return nil, docerrors.NewEnrichmentError(docerrors.ErrCodeSidecarParse, "sidecar failed recently, skipped", nil)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		e.recordFailure(key)
		e.logger.Error(ctx, err, "Failed to parse sidecar", "path", logging.MaskPath(path))
		return nil, docerrors.WrapEnrichment(err, docerrors.ErrCodeSidecarParse, "sidecar is not well-formed XML")
	}
	root := doc.Root()
	if root == nil {
		e.recordFailure(key)
		return nil, docerrors.NewEnrichmentError(docerrors.ErrCodeSidecarParse, "sidecar has no root element", nil)
	}

	fields, applied := Merge(root, e.strategies)
	if len(applied) == 0 {
		e.logger.Warn(ctx, nil, "No sidecar schema shape applied", "path", logging.MaskPath(path))
	} else {
		e.logger.Info(ctx, "Extracted sidecar fields", "count", len(fields), "strategies", strings.Join(applied, ", "))
	}
	if len(fields) == 0 {
		return nil, docerrors.NewEnrichmentError(docerrors.ErrCodeSidecarParse, "sidecar carries no fields", nil)
	}
	return fields, nil
}

func (e *Extractor) recentlyFailed(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	at, ok := e.failures[key]
	if !ok {
		return false
	}
	if e.now().Sub(at) < e.cooldown {
		return true
	}
	delete(e.failures, key)
	return false
}

func (e *Extractor) recordFailure(key string) {
	e.mu.Lock()
	e.failures[key] = e.now()
	e.mu.Unlock()
}

// PruneFailures drops expired failure entries and returns how many remain.
func (e *Extractor) PruneFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for k, at := range e.failures {
		if now.Sub(at) >= e.cooldown {
			delete(e.failures, k)
		}
	}
	return len(e.failures)
}

// ResolveName returns the first non-empty value among NameFields.
func ResolveName(fields Fields) (string, bool) {
	for _, key := range NameFields {
		if v, ok := fields[key]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// TransformNameToEmail turns "Jane Smith-Wilson" into
// "JANE.SMITHWILSON@domain". Middle names are dropped.
func TransformNameToEmail(name, domain string) (string, bool) {
	parts := strings.Fields(name)

	var prefix string
	switch len(parts) {
	case 0:
		return "", false
	case 1:
		prefix = parts[0]
	default:
		prefix = parts[0] + "." + parts[len(parts)-1]
	}

	prefix = upper.String(prefix)
	prefix = disallowed.ReplaceAllString(prefix, "")
	prefix = dotRuns.ReplaceAllString(prefix, ".")
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return "", false
	}

	return prefix + "@" + domain, true
}

type resolveOptions struct {
	cacheKey string
}

// ResolveOption configures one ResolveNotificationCC call.
type ResolveOption func(*resolveOptions)

// WithCacheKey keys the parse failure cache on key instead of the sidecar
// path. Staged copies live under per-event paths, so callers pass the
// source sidecar path here.
func WithCacheKey(key string) ResolveOption {
	return func(o *resolveOptions) { o.cacheKey = key }
}

// ResolveNotificationCC runs locate, parse, name resolution and transform.
// Any failure yields ("", false).
func (e *Extractor) ResolveNotificationCC(pdfPath string, opts ...ResolveOption) (string, bool) {
	ctx := context.Background()

	path, ok := Locate(pdfPath)
	if !ok {
		e.logger.Info(ctx, "No sidecar found", "pdf", logging.MaskFilename(filepath.Base(pdfPath)))
		return "", false
	}

	o := resolveOptions{cacheKey: path}
	for _, opt := range opts {
		opt(&o)
	}

	fields, err := e.parse(path, o.cacheKey)
	if err != nil {
		return "", false
	}

	name, ok := ResolveName(fields)
	if !ok {
		e.logger.Warn(ctx, nil, "No submitter name in sidecar")
		return "", false
	}

	addr, ok := TransformNameToEmail(name, e.domain)
	if !ok {
		e.logger.Warn(ctx, nil, "Submitter name produced no usable address")
		return "", false
	}

	e.logger.Info(ctx, "Resolved CC from sidecar", "cc", logging.MaskEmail(addr))
	return addr, true
}
