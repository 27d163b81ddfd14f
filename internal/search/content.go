package search

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/k3a/html2text"
	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/textnorm"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxFlattenSize bounds how much HTML is converted to text; larger
// documents are matched raw.
const maxFlattenSize = 20000

// hasSearchableContent reports whether full text looks into the content of
// notes of this type.
func hasSearchableContent(t graph.NoteType) bool {
	switch t {
	case graph.TypeText, graph.TypeCode, graph.TypeMermaid, graph.TypeCanvas:
		return true
	}
	return false
}

func isMarkdown(mime string) bool {
	return mime == "text/markdown" || mime == "text/x-markdown" || mime == "text/x-gfm"
}

// flattenContent turns note content into normalized plain text. raw skips
// markup removal.
func flattenContent(content []byte, typ graph.NoteType, mime string, raw bool) string {
	s := string(content)
	if !raw {
		switch {
		case typ == graph.TypeText && len(content) < maxFlattenSize:
			s = html2text.HTML2Text(s)
		case typ == graph.TypeCode && isMarkdown(mime):
			s = markdownText(content)
		case typ == graph.TypeCanvas:
			s = canvasText(content)
		}
	}
	return strings.TrimSpace(textnorm.Normalize(s))
}

// markdownText collects the text of a markdown document, one space between
// blocks.
func markdownText(src []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.URL(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// canvasText extracts the text elements of a canvas drawing.
func canvasText(src []byte) string {
	var doc struct {
		Elements []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(src, &doc); err != nil {
		return ""
	}
	var parts []string
	for _, el := range doc.Elements {
		if el.Type == "text" && el.Text != "" {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, " ")
}
