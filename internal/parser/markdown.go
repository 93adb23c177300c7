package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// parseMarkdown keeps headings as markdown headings and renders GFM tables as
// tab-separated rows. Inline formatting is dropped.
func (p *Parser) parseMarkdown(data []byte) (string, int, error) {
	doc := markdown.Parser().Parse(text.NewReader(data))

	var lines []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			lines = append(lines, strings.Repeat("#", n.Level)+" "+inlineText(n, data))
			return ast.WalkSkipChildren, nil
		case *east.Table:
			for row := n.FirstChild(); row != nil; row = row.NextSibling() {
				var cells []string
				for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
					cells = append(cells, cleanCell(inlineText(cell, data)))
				}
				lines = append(lines, strings.Join(cells, "\t"))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			prefix := ""
			if _, ok := n.Parent().(*ast.ListItem); ok && n == n.Parent().FirstChild() {
				prefix = "- "
			}
			for _, line := range strings.Split(inlineText(n, data), "\n") {
				lines = append(lines, prefix+line)
				prefix = ""
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			segs := n.Lines()
			for i := 0; i < segs.Len(); i++ {
				seg := segs.At(i)
				lines = append(lines, strings.TrimRight(string(seg.Value(data)), "\r\n"))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", 0, err
	}
	return tidyLines(strings.Join(lines, "\n")), 1, nil
}

// inlineText concatenates the text of n's inline descendants
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.HardLineBreak() || c.SoftLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.URL(source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
