// Package export renders trade receipts for finalized tickets.
package export

import "errors"

// Format represents the receipt output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Result contains the rendered receipt.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	Format   Format
}

// ErrPDFDependencyMissing indicates PDF rendering runtime dependencies are
// unavailable. Callers may retry with FormatHTML.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
