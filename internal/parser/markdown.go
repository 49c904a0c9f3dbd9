// Package parser extracts speakable text from markdown documents.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// bareURL matches URLs written as plain text.
var bareURL = regexp.MustCompile(`(?i)\b(?:https?|ftp)://\S+|\bwww\.\S+`)

// MarkdownParser turns markdown into plain text blocks suitable for speech.
// Code, HTML, images and URLs are dropped; link and emphasis text is kept.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

// NewMarkdownParser creates a parser with goldmark's CommonMark defaults.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

// Blocks returns one entry per heading, paragraph or list item, in
// document order. Blocks left empty after filtering are omitted.
func (p *MarkdownParser) Blocks(r io.Reader) ([]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	content, _ = extractFrontmatter(content)

	doc := p.markdown.Parser().Parse(text.NewReader(content))

	var blocks []string
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			var buf bytes.Buffer
			writeInline(&buf, n, content)
			if block := normalize(buf.String()); block != "" {
				blocks = append(blocks, block)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk markdown: %w", err)
	}

	return blocks, nil
}

// Text returns all blocks of the document joined into one passage.
func (p *MarkdownParser) Text(r io.Reader) (string, error) {
	blocks, err := p.Blocks(r)
	if err != nil {
		return "", err
	}
	return strings.Join(blocks, "\n"), nil
}

// writeInline appends the speakable text of n's inline children.
func writeInline(buf *bytes.Buffer, n ast.Node, source []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink, *ast.Image, *ast.RawHTML:
			// not speakable
		default:
			// Links, emphasis and code spans contribute their text.
			writeInline(buf, c, source)
		}
	}
}

// normalize drops bare URLs and collapses whitespace.
func normalize(s string) string {
	s = bareURL.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// extractFrontmatter splits YAML frontmatter from markdown content.
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	return content, nil
}
