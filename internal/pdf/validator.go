// Package pdf confirms that staged files are structurally valid PDF
// documents before anything is routed on their behalf.
package pdf

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// Magic is the prefix every PDF file starts with.
var Magic = []byte("%PDF")

var disableConfigDir sync.Once

// Validator checks the magic number and then parses the document structure.
type Validator struct {
	conf *model.Configuration
}

// NewValidator returns a Validator using pdfcpu's relaxed validation mode,
// which accepts the minor spec deviations scanners commonly produce.
func NewValidator() *Validator {
	// pdfcpu would otherwise create a config directory under the service
	// account's home on first use.
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &Validator{conf: conf}
}

// Validate returns nil when path holds a well-formed PDF.
func (v *Validator) Validate(path string) error {
	if err := CheckMagic(path); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return docerrors.ErrInvalidPDF("unreadable", err)
	}
	defer f.Close()

	if err := api.Validate(f, v.conf); err != nil {
		return docerrors.ErrInvalidPDF("structure did not parse", err)
	}
	return nil
}

// CheckMagic verifies only the leading %PDF bytes.
func CheckMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return docerrors.ErrInvalidPDF("unreadable", err)
	}
	defer f.Close()

	head := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return docerrors.ErrInvalidPDF("shorter than the PDF header", err)
	}
	if !bytes.Equal(head, Magic) {
		return docerrors.ErrInvalidPDF("missing %PDF magic number", nil)
	}
	return nil
}
