package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var journalTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/journal.html")
	if err != nil {
		// Fallback to built-in template if file not found
		journalTemplate = template.Must(template.New("journal").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	journalTemplate = template.Must(template.New("journal").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for journal month rendering
type TemplateData struct {
	JournalName string
	MonthLabel  string
	Entries     []TemplateEntry
}

// TemplateEntry holds one rendered entry for the template
type TemplateEntry struct {
	Title      string
	BodyHTML   template.HTML
	AuthorName string
	EntryDate  time.Time
	Tags       []string
	PhotoURLs  []string
}

// RenderJournalHTML renders the journal month template with provided data
func RenderJournalHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := journalTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.JournalName}} — {{.MonthLabel}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .entry { margin: 2rem 0; page-break-inside: avoid; }
    .meta { color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.JournalName}}</h1>
  <p class="meta">{{.MonthLabel}}</p>
  {{range .Entries}}
  <div class="entry">
    <h2>{{.Title}}</h2>
    <div class="meta">{{.AuthorName}} | {{formatDate .EntryDate "Jan 2, 2006"}}</div>
    <div>{{.BodyHTML}}</div>
  </div>
  {{end}}
</body>
</html>`
