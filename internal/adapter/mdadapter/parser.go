package mdadapter

import (
	"regexp"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// EntriesKey holds the []Entry a page is rendered for.
var EntriesKey = parser.NewContextKey()

var (
	reModule  = regexp.MustCompile(`^{{\s*module:\s*([^\s}]+)\s*}}`)
	reModules = regexp.MustCompile(`^{{\s*modules\s*}}`)
)

type ModuleDirectiveParser struct{}

func NewModuleDirectiveParser() parser.InlineParser {
	return &ModuleDirectiveParser{}
}

func (s *ModuleDirectiveParser) Trigger() []byte {
	return []byte{'{'}
}

func (s *ModuleDirectiveParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	entries, _ := pc.Get(EntriesKey).([]Entry)

	if matches := reModules.FindSubmatch(line); matches != nil {
		block.Advance(len(matches[0]))

		return &ModuleDirective{All: true, Entries: entries}
	}

	if matches := reModule.FindSubmatch(line); matches != nil {
		block.Advance(len(matches[0]))

		node := &ModuleDirective{Filename: string(matches[1])}
		for _, e := range entries {
			if e.Filename == node.Filename {
				node.Entries = []Entry{e}

				break
			}
		}

		return node
	}

	return nil
}
