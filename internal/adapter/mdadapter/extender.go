package mdadapter

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// ModulesExtension adds the module directives to goldmark.
type ModulesExtension struct{}

func NewModulesExtension() goldmark.Extender {
	return &ModulesExtension{}
}

func (e *ModulesExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(NewModuleDirectiveParser(), 500),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(NewModuleDirectiveRenderer(), 500),
		),
	)
}
