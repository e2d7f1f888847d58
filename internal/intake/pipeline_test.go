package intake

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docrelay/internal/classify"
	"github.com/conneroisu/docrelay/internal/staging"
	"github.com/conneroisu/docrelay/internal/testutils"
)

func TestPipelineNotifiesWithAttachmentAndCC(t *testing.T) {
	h := newHarness(t)
	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_123456.pdf", 0)
	testutils.WriteFile(t, h.dirs.Watch, "WIRE_123456.xml",
		testutils.IndexSidecar(map[string]string{"USER NAME": "Jane Smith-Wilson"}))

	out := h.run(t, path)
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, ReasonNone, out.Reason)
	assert.Equal(t, "WireTransfer", out.Template)
	assert.True(t, out.Attached)
	assert.True(t, out.CC)
	assert.Equal(t, "[REDACTED_FILE].pdf", out.File)
	assert.Equal(t, "WIRE_123456.pdf", out.OriginalName)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, []string{"wires@corp.example"}, msg.To)
	assert.Equal(t, []string{"JANE.SMITHWILSON@corp.example"}, msg.Cc)
	assert.Equal(t, "Wire Transfer Form 123456", msg.Subject)
	assert.Equal(t, "A new wire transfer form arrived.", msg.Body)
	assert.Equal(t, int64(len(testutils.MinimalPDF(0))), msg.attachmentSize)
	assert.True(t, strings.HasPrefix(filepath.Base(msg.AttachmentPath), "WIRE_123456_"))

	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
	assert.Zero(t, h.staging.ActiveCount())
	// the source is never touched
	assert.FileExists(t, path)
}

func TestPipelineDedupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_1.pdf", 0)

	first := h.run(t, path)
	second := h.run(t, path)

	assert.Equal(t, StatusNotified, first.Status)
	assert.Equal(t, StatusIgnored, second.Status)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, "admission", second.Stage)
	assert.Equal(t, 1, h.sender.count())
}

func TestPipelineFailedSendIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_2.pdf", 0)

	h.sender.fail = true
	out := h.run(t, path)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, ReasonDeliveryFailed, out.Reason)
	assert.Zero(t, h.ctrl.rate.Count())

	h.sender.fail = false
	out = h.run(t, path)
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, 1, h.ctrl.rate.Count())
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
}

func TestPipelineRateLimit(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.RateLimit = 2 }))

	var statuses []Status
	for _, name := range []string{"WIRE_1.pdf", "WIRE_2.pdf", "WIRE_3.pdf"} {
		statuses = append(statuses, h.run(t, testutils.WritePDF(t, h.dirs.Watch, name, 0)).Status)
	}
	assert.Equal(t, []Status{StatusNotified, StatusNotified, StatusIgnored}, statuses)
	assert.Equal(t, 2, h.sender.count())
}

func TestPipelineAmbiguousTemplates(t *testing.T) {
	other, err := classify.NewTemplate("AnyNumber", `_\d+\.pdf$`, []string{"x@corp.example"}, "x", "y")
	require.NoError(t, err)

	h := newHarness(t)
	h.ctrl.pipeline.matcher = classify.NewMatcher([]classify.Template{wireTemplate(t), other})

	out := h.run(t, testutils.WritePDF(t, h.dirs.Watch, "WIRE_77.pdf", 0))
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, ReasonAmbiguous, out.Reason)
	assert.Equal(t, []string{"WireTransfer", "AnyNumber"}, out.Candidates)
	assert.Zero(t, h.sender.count())
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
}

func TestPipelineNoTemplate(t *testing.T) {
	h := newHarness(t)
	out := h.run(t, testutils.WritePDF(t, h.dirs.Watch, "invoice.pdf", 0))
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, ReasonNoTemplate, out.Reason)
	assert.Zero(t, h.sender.count())
}

func TestPipelineRejectsInvalidPDF(t *testing.T) {
	h := newHarness(t)
	path := testutils.WriteFile(t, h.dirs.Watch, "WIRE_5.pdf", "definitely not a pdf")

	out := h.run(t, path)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, ReasonInvalidPDF, out.Reason)
	assert.Equal(t, "validate", out.Stage)
	assert.Zero(t, h.sender.count())
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
}

func TestPipelineRejectsTraversal(t *testing.T) {
	h := newHarness(t)
	outside := filepath.Join(filepath.Dir(h.dirs.Watch), "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	testutils.WritePDF(t, outside, "WIRE_9.pdf", 0)

	crafted := filepath.Join(h.dirs.Watch, "..", "outside", "WIRE_9.pdf")
	out := h.run(t, crafted)

	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, ReasonPathTraversal, out.Reason)
	assert.Zero(t, h.sender.count())
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
}

func TestPipelineAttachmentSizeBoundary(t *testing.T) {
	const padding = 4096
	size := int64(len(testutils.MinimalPDF(padding)))

	t.Run("exactly the limit is attached", func(t *testing.T) {
		h := newHarness(t, withConfig(func(c *Config) { c.MaxAttachment = size }))
		out := h.run(t, testutils.WritePDF(t, h.dirs.Watch, "WIRE_10.pdf", padding))

		require.Equal(t, StatusNotified, out.Status)
		assert.True(t, out.Attached)
		msg := h.sender.messages()[0]
		assert.Equal(t, size, msg.attachmentSize)
		assert.NotContains(t, msg.Body, "too large")
	})

	t.Run("one byte over is not", func(t *testing.T) {
		h := newHarness(t, withConfig(func(c *Config) { c.MaxAttachment = size - 1 }))
		out := h.run(t, testutils.WritePDF(t, h.dirs.Watch, "WIRE_11.pdf", padding))

		require.Equal(t, StatusNotified, out.Status)
		assert.False(t, out.Attached)
		msg := h.sender.messages()[0]
		assert.Empty(t, msg.AttachmentPath)
		assert.Equal(t, "A new wire transfer form arrived."+DefaultLargeFileNote, msg.Body)
	})
}

func TestPipelineSidecarCopyFailureIsNotFatal(t *testing.T) {
	noXML := func(src, dst string, perm os.FileMode) error {
		if strings.EqualFold(filepath.Ext(src), ".xml") {
			return errors.New("device not ready")
		}
		return staging.CopyFile(src, dst, perm)
	}
	h := newHarness(t, withCopyFunc(noXML))
	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_12.pdf", 0)
	testutils.WriteFile(t, h.dirs.Watch, "WIRE_12.XML", "<doc><User>Ann Lee</User></doc>")

	out := h.run(t, path)
	assert.Equal(t, StatusNotified, out.Status)
	assert.False(t, out.CC)
	assert.Empty(t, h.sender.messages()[0].Cc)
}

func TestPipelineUppercaseSidecar(t *testing.T) {
	h := newHarness(t)
	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_13.pdf", 0)
	testutils.WriteFile(t, h.dirs.Watch, "WIRE_13.XML", "<doc><SUBMITTED_BY>Cher</SUBMITTED_BY></doc>")

	out := h.run(t, path)
	require.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, []string{"CHER@corp.example"}, h.sender.messages()[0].Cc)
}

func TestPipelineCopyFailure(t *testing.T) {
	denied := func(src, _ string, _ os.FileMode) error {
		return &fs.PathError{Op: "open", Path: src, Err: fs.ErrPermission}
	}
	h := newHarness(t, withCopyFunc(denied))

	out := h.run(t, testutils.WritePDF(t, h.dirs.Watch, "WIRE_14.pdf", 0))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, ReasonCopyFailed, out.Reason)
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
}

func TestPipelinePanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.sender.panics = true
	sink := &outcomeCollector{}
	h.ctrl.AddSink(sink)

	path := testutils.WritePDF(t, h.dirs.Watch, "WIRE_15.pdf", 0)
	h.ctrl.pool.process(context.Background(), 0, FileEvent{ID: "boom", Path: path})

	outs := sink.all()
	require.Len(t, outs, 1)
	assert.Equal(t, StatusFailed, outs[0].Status)
	assert.Equal(t, ReasonPanic, outs[0].Reason)
	assert.Contains(t, outs[0].Error, "transport exploded")
	// the deferred cleanup still ran
	assert.Empty(t, testutils.Entries(t, h.dirs.Staging))
	assert.Equal(t, int64(1), h.ctrl.Stats().Failed)
}

func TestStageResult(t *testing.T) {
	assert.False(t, proceed().Done())
	assert.True(t, stop(StatusIgnored, ReasonDuplicate, nil).Done())
}
