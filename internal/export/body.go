package export

import (
	"html"
	"strings"
)

// BodyToHTML converts a plain-text entry body into paragraph HTML. Blank
// lines separate paragraphs; single newlines become <br>. All text is
// escaped.
func BodyToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	paragraphs := strings.Split(body, "\n\n")

	var sb strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lines := strings.Split(p, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.Join(lines, "<br>"))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}
