package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetJournal(ctx context.Context, groupID string) (JournalInfo, error)
	ListMonthEntries(ctx context.Context, groupID string, from, to time.Time) ([]EntryInfo, error)
}

// Service renders journal months into downloadable documents
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export of one journal month in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Month < 1 || req.Month > 12 {
		return nil, fmt.Errorf("invalid month: %d", req.Month)
	}

	journal, err := s.store.GetJournal(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get journal: %w", err)
	}

	from := time.Date(req.Year, time.Month(req.Month), 1, 0, 0, 0, 0, time.Local)
	to := from.AddDate(0, 1, 0)

	entries, err := s.store.ListMonthEntries(ctx, req.GroupID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list month entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	monthLabel := from.Format("January 2006")
	data := TemplateData{
		JournalName: journal.Name,
		MonthLabel:  monthLabel,
		Entries:     make([]TemplateEntry, 0, len(entries)),
	}
	for _, e := range entries {
		data.Entries = append(data.Entries, TemplateEntry{
			Title:      e.Title,
			BodyHTML:   template.HTML(BodyToHTML(e.Body)),
			AuthorName: e.AuthorName,
			EntryDate:  e.EntryDate,
			Tags:       e.Tags,
			PhotoURLs:  e.PhotoURLs,
		})
	}

	html, err := RenderJournalHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s %s", journal.Name, monthLabel)
	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
