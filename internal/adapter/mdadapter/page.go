package mdadapter

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

const defaultSource = `# {{ title }}

{{ modules }}
`

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
{{- if .Description }}
<meta name="description" content="{{ .Description }}">
{{- end }}
</head>
<body>
{{ .Content }}
</body>
</html>
`

// Entry is one published artifact listed on the index page.
type Entry struct {
	Filename     string
	Checksum     string
	ChecksumType string
}

type Frontmatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type pageContext struct {
	Title       string
	Description string
	Content     template.HTML
}

// PageRenderer builds the index.html of a hosting location from a markdown
// source with optional front matter.
type PageRenderer struct {
	source []byte
	md     goldmark.Markdown
	tpl    *template.Template
	log    *slog.Logger
}

// NewPageRenderer loads the markdown source from sourceFile, or uses the
// built-in one when sourceFile is empty.
func NewPageRenderer(fs afero.Fs, sourceFile string, log *slog.Logger) (*PageRenderer, error) {
	source := []byte(defaultSource)
	if sourceFile != "" {
		data, err := afero.ReadFile(fs, sourceFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read index template: %w", err)
		}

		source = data
	}

	tpl, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("cannot parse page template: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			NewModulesExtension(),
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &PageRenderer{
		source: source,
		md:     md,
		tpl:    tpl,
		log:    log.With(slog.String("item", "PageRenderer")),
	}, nil
}

// Render returns the page for entries. title is used when the front matter has none;
// "{{ title }}" in the source is replaced by the resulting title.
func (r *PageRenderer) Render(title string, entries []Entry) ([]byte, error) {
	pc := parser.NewContext()
	pc.Set(EntriesKey, entries)

	var buf bytes.Buffer
	if err := r.md.Convert(r.source, &buf, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("cannot convert markdown: %w", err)
	}

	page := pageContext{Title: title}

	if fm := frontmatter.Get(pc); fm != nil {
		var meta Frontmatter
		if err := fm.Decode(&meta); err != nil {
			r.log.Warn("Cannot decode front matter", slog.Any("error", err))
		} else {
			if meta.Title != "" {
				page.Title = meta.Title
			}
			page.Description = meta.Description
		}
	}

	content := bytes.ReplaceAll(buf.Bytes(), []byte("{{ title }}"), []byte(template.HTMLEscapeString(page.Title)))
	page.Content = template.HTML(content)

	var out bytes.Buffer
	if err := r.tpl.Execute(&out, &page); err != nil {
		return nil, fmt.Errorf("cannot execute page template: %w", err)
	}

	return out.Bytes(), nil
}
