package mdadapter

import (
	"github.com/yuin/goldmark/ast"
)

var KindModuleDirective = ast.NewNodeKind("ModuleDirective")

// ModuleDirective is a {{ module: <filename> }} or {{ modules }} placeholder.
// Entries holds the published units it resolved to at parse time.
type ModuleDirective struct {
	ast.BaseInline
	Filename string
	All      bool
	Entries  []Entry
}

func (n *ModuleDirective) Kind() ast.NodeKind {
	return KindModuleDirective
}

func (n *ModuleDirective) Dump(source []byte, level int) {
	all := "false"
	if n.All {
		all = "true"
	}

	ast.DumpHelper(n, source, level, map[string]string{
		"Filename": n.Filename,
		"All":      all,
	}, nil)
}
