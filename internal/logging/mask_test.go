package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskFilename(t *testing.T) {
	assert.Equal(t, "[REDACTED_FILE].pdf", MaskFilename("WIRE_123456.pdf"))
	assert.Equal(t, "[REDACTED_FILE].pdf", MaskFilename("wire.PDF"))
	assert.Equal(t, "notes.txt", MaskFilename("notes.txt"))
}

func TestMaskPath(t *testing.T) {
	assert.Equal(t, "[REDACTED_PATH]", MaskPath(`C:\Users\jdoe\Documents\wire.pdf`))
	assert.Equal(t, "[REDACTED_PATH]", MaskPath("/home/jdoe/inbox/wire.pdf"))
	assert.Equal(t, "/srv/scans/wire.pdf", MaskPath("/srv/scans/wire.pdf"))
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"JANE.SMITH@EXAMPLE.COM": "JA...H@EXAMPLE.COM",
		"bob@example.com":        "[REDACTED_EMAIL]@example.com",
		"abcd@x.io":              "ab...d@x.io",
		"no-at-sign":             "[REDACTED_EMAIL]",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskEmail(in), in)
	}

	assert.Equal(t, []string{"ab...d@x.io", "[REDACTED_EMAIL]@y.io"}, MaskEmails([]string{"abcd@x.io", "ab@y.io"}))
}
