package mdadapter

import (
	"fmt"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type ModuleDirectiveRenderer struct{}

func NewModuleDirectiveRenderer() renderer.NodeRenderer {
	return &ModuleDirectiveRenderer{}
}

func (r *ModuleDirectiveRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindModuleDirective, r.renderModuleDirective)
}

func (r *ModuleDirectiveRenderer) renderModuleDirective(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	directive := n.(*ModuleDirective)

	if !directive.All {
		if len(directive.Entries) == 0 {
			// Unknown module: keep the name, without a link.
			_, _ = w.Write(util.EscapeHTML([]byte(directive.Filename)))

			return ast.WalkContinue, nil
		}

		writeLink(w, directive.Entries[0])

		return ast.WalkContinue, nil
	}

	_, _ = w.WriteString(`<ul class="modules">`)
	for _, e := range directive.Entries {
		_, _ = w.WriteString("<li>")
		writeLink(w, e)
		_, _ = w.WriteString("</li>")
	}
	_, _ = w.WriteString("</ul>")

	return ast.WalkContinue, nil
}

func writeLink(w util.BufWriter, e Entry) {
	name := util.EscapeHTML([]byte(e.Filename))

	_, _ = w.WriteString(fmt.Sprintf(`<a class="module" href="%s" data-checksum="%s:%s">%s</a>`,
		name, util.EscapeHTML([]byte(e.ChecksumType)), util.EscapeHTML([]byte(e.Checksum)), name))
}
