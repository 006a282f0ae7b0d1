package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title      string
	IsPublic   bool
	ExportedAt time.Time
	Notes      []TemplateNote
}

// TemplateNote holds note data for template
type TemplateNote struct {
	Content     string
	Color       string
	PositionX   float64
	PositionY   float64
	UpvoteCount int
}

// noteColors maps a note color name to its sticky-note background.
var noteColors = map[string]string{
	"YELLOW":   "#fef08a",
	"CREATIVE": "#fbcfe8",
	"COOL":     "#bfdbfe",
	"FRESH":    "#bbf7d0",
	"ROYAL":    "#ddd6fe",
}

func init() {
	funcMap := template.FuncMap{
		"noteColor": func(color string) string {
			if hex, ok := noteColors[color]; ok {
				return hex
			}
			return noteColors["YELLOW"]
		},
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(boardTemplateHTML))
}

var boardTemplate *template.Template

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boardTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 0; background: #f8fafc; }
    header { padding: 1rem 1.5rem; border-bottom: 2px solid #334155; }
    h1 { margin: 0; font-size: 1.4rem; }
    .meta { color: #64748b; font-size: 0.8rem; margin-top: 0.25rem; }
    .canvas { position: relative; width: 100%; height: 1400px; overflow: hidden; }
    .note {
      position: absolute;
      width: 180px;
      min-height: 120px;
      padding: 0.75rem;
      border-radius: 4px;
      box-shadow: 1px 2px 6px rgba(0,0,0,0.25);
      font-size: 0.85rem;
      white-space: pre-wrap;
      word-wrap: break-word;
    }
    .upvotes { position: absolute; right: 6px; bottom: 4px; font-size: 0.7rem; color: #475569; }
  </style>
</head>
<body>
  <header>
    <h1>{{.Title}}</h1>
    <div class="meta">{{if .IsPublic}}Public board{{else}}Private board{{end}} &middot; exported {{formatDate .ExportedAt "Jan 2, 2006 15:04"}}</div>
  </header>
  <div class="canvas">
    {{range .Notes}}
    <div class="note" style="left: {{printf "%.0f" .PositionX}}px; top: {{printf "%.0f" .PositionY}}px; background: {{noteColor .Color}};">
      {{.Content}}
      {{if .UpvoteCount}}<span class="upvotes">&#9650; {{.UpvoteCount}}</span>{{end}}
    </div>
    {{end}}
  </div>
</body>
</html>`
