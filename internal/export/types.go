// Package export renders a month of journal entries as PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	GroupID string
	Year    int
	Month   int
	Format  Format
}

// JournalInfo holds journal metadata for export
type JournalInfo struct {
	ID   string
	Name string
}

// EntryInfo holds one entry for export
type EntryInfo struct {
	Title      string
	Body       string
	AuthorName string
	EntryDate  time.Time
	Tags       []string
	PhotoURLs  []string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNoEntries indicates the requested month has nothing to export.
	ErrNoEntries = errors.New("export month has no entries")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
