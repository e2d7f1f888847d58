// Package testutils holds fixtures shared by package tests: minimal valid
// PDF documents, sidecar XML files and watched/staging directory layouts.
package testutils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// MinimalPDF returns a single-page PDF with a correct cross-reference table.
// When padding is positive an unreferenced stream object of that many bytes
// is added, which lets tests grow a still-valid document to a chosen size.
func MinimalPDF(padding int) []byte {
	var buf bytes.Buffer
	var offsets []int

	buf.WriteString("%PDF-1.4\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
	}
	for i, body := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	if padding > 0 {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n", len(objects)+1, padding)
		buf.Write(bytes.Repeat([]byte{'0'}, padding))
		buf.WriteString("\nendstream\nendobj\n")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

// WritePDF writes MinimalPDF(padding) to dir/name and returns the path.
func WritePDF(t testing.TB, dir, name string, padding int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, MinimalPDF(padding), 0o644))
	return path
}

// WriteFile writes arbitrary content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// IndexSidecar renders the <index name=".." value=".."/> sidecar shape.
func IndexSidecar(fields map[string]string) string {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\"?>\n<document>\n")
	for k, v := range fields {
		fmt.Fprintf(&buf, "  <index name=%q value=%q/>\n", k, v)
	}
	buf.WriteString("</document>\n")
	return buf.String()
}

// Dirs is a watched directory and a staging root under one temp dir.
type Dirs struct {
	Watch   string
	Staging string
}

// NewDirs creates the watched and staging directories for a test.
func NewDirs(t testing.TB) Dirs {
	t.Helper()
	base := t.TempDir()
	d := Dirs{
		Watch:   filepath.Join(base, "watch"),
		Staging: filepath.Join(base, "staging"),
	}
	require.NoError(t, os.MkdirAll(d.Watch, 0o755))
	require.NoError(t, os.MkdirAll(d.Staging, 0o700))
	return d
}

// Entries lists the names in dir, failing the test on error.
func Entries(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
