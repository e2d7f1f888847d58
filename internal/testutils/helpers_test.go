package testutils

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimalPDFCrossReference(t *testing.T) {
	for _, padding := range []int{0, 1, 4096} {
		doc := MinimalPDF(padding)
		require.True(t, bytes.HasPrefix(doc, []byte("%PDF-1.4\n")))
		require.True(t, bytes.HasSuffix(doc, []byte("%%EOF\n")))

		// startxref must point at the xref keyword
		s := string(doc)
		idx := strings.LastIndex(s, "startxref\n")
		require.NotEqual(t, -1, idx)
		rest := strings.TrimSuffix(s[idx+len("startxref\n"):], "\n%%EOF\n")
		off, err := strconv.Atoi(rest)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s[off:], "xref\n"))

		// every in-use entry must point at "N 0 obj"
		lines := strings.Split(s[off:], "\n")
		obj := 1
		for _, line := range lines[3:] {
			if !strings.HasSuffix(line, " n ") {
				break
			}
			at, err := strconv.Atoi(line[:10])
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(s[at:], strconv.Itoa(obj)+" 0 obj"), "object %d", obj)
			obj++
		}
	}
}

func TestMinimalPDFGrowsWithPadding(t *testing.T) {
	small := len(MinimalPDF(0))
	big := len(MinimalPDF(1000))
	assert.Greater(t, big-small, 1000)
}

func TestNewDirsAndEntries(t *testing.T) {
	d := NewDirs(t)
	WritePDF(t, d.Watch, "a.pdf", 0)
	WriteFile(t, d.Watch, "a.xml", "<x/>")

	assert.ElementsMatch(t, []string{"a.pdf", "a.xml"}, Entries(t, d.Watch))
	assert.Empty(t, Entries(t, d.Staging))

	_, err := os.Stat(filepath.Join(d.Watch, "a.pdf"))
	assert.NoError(t, err)
}
