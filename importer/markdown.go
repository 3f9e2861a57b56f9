package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/frontmatter"

	"github.com/hypergopher/astroglossary"
)

var ErrNoFrontmatter = errors.New("markdown file has no frontmatter")

// PostMeta is the frontmatter of a post file, in YAML (---) or TOML (+++).
type PostMeta struct {
	ID      string    `yaml:"id" toml:"id"`
	Title   string    `yaml:"title" toml:"title"`
	Type    string    `yaml:"type" toml:"type"`
	Subject string    `yaml:"subject" toml:"subject"`
	Source  string    `yaml:"source" toml:"source"`
	Date    time.Time `yaml:"date" toml:"date"`
	UserID  string    `yaml:"user_id" toml:"user_id"`
}

// MarkdownParserFunc turns the contents of a markdown file into a post.
type MarkdownParserFunc func(input []byte) (*astroglossary.Post, error)

// DefaultMarkdownParser returns a MarkdownParserFunc that reads the frontmatter with the goldmark
// frontmatter extension and uses the plain text of the body as the subject when the frontmatter
// does not set one. GFM is enabled so tables and strikethrough do not leak markup into the text.
func DefaultMarkdownParser() MarkdownParserFunc {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			&frontmatter.Extender{},
		),
	)

	return func(input []byte) (*astroglossary.Post, error) {
		return MarkdownToPost(md, input)
	}
}

// MarkdownToPost converts markdown content to a Post. The ID is left empty when the frontmatter has none.
func MarkdownToPost(md goldmark.Markdown, content []byte) (*astroglossary.Post, error) {
	ctx := parser.NewContext()
	doc := md.Parser().Parse(text.NewReader(content), parser.WithContext(ctx))

	data := frontmatter.Get(ctx)
	if data == nil {
		return nil, ErrNoFrontmatter
	}

	var meta PostMeta
	if err := data.Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode frontmatter: %w", err)
	}

	subject := strings.TrimSpace(meta.Subject)
	if subject == "" {
		subject = plainText(doc, content)
	}

	return &astroglossary.Post{
		ID:      strings.TrimSpace(meta.ID),
		Title:   strings.TrimSpace(meta.Title),
		Type:    strings.TrimSpace(meta.Type),
		Subject: subject,
		Source:  strings.TrimSpace(meta.Source),
		Date:    meta.Date.UTC(),
		UserID:  strings.TrimSpace(meta.UserID),
	}, nil
}

// plainText collects the text of the document with markup removed and whitespace collapsed.
func plainText(doc ast.Node, source []byte) string {
	var sb strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				sb.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(sb.String()), " ")
}
