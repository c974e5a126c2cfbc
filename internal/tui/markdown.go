package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	codeBlockRegex = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	headingRegex   = regexp.MustCompile(`<h([1-3]) id="[^"]*">(.*?)</h[1-3]>`)
	strongRegex    = regexp.MustCompile(`<strong>(.*?)</strong>`)
	emRegex        = regexp.MustCompile(`<em>(.*?)</em>`)
	linkRegex      = regexp.MustCompile(`<a href="([^"]*)">(.*?)</a>`)
	blockquoteRe   = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	listRegex      = regexp.MustCompile(`(?s)<(ul|ol)>(.*?)</(?:ul|ol)>`)
	liRegex        = regexp.MustCompile(`<li>(.*?)</li>`)
	htmlTagRegex   = regexp.MustCompile(`<[^>]+>`)
	multiNewline   = regexp.MustCompile(`\n{3,}`)
	inlineCodeRe   = regexp.MustCompile(`<code>([^<]+)</code>`)
)

// MarkdownRenderer turns assistant markdown into styled terminal text,
// with chroma highlighting inside fenced code blocks.
type MarkdownRenderer struct {
	md        goldmark.Markdown
	formatter chroma.Formatter
	style     *chroma.Style

	heading lipgloss.Style
	code    lipgloss.Style
	inline  lipgloss.Style
	quote   lipgloss.Style
	bullet  lipgloss.Style
	link    lipgloss.Style
}

func NewMarkdownRenderer() *MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
		goldmark.WithExtensions(
			extension.GFM,
			extension.Strikethrough,
			extension.TaskList,
		),
	)

	return &MarkdownRenderer{
		md:        md,
		formatter: formatters.Get("terminal256"),
		style:     styles.Get("friendly"),

		heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"}),
		code: lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#cbd5e0", Dark: "#3a3a3a"}),
		inline: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#f4b27d"}),
		quote: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#4a5568", Dark: "#c7c7c7"}).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			PaddingLeft(1),
		bullet: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#46d1b7"}),
		link:   lipgloss.NewStyle().Underline(true).Foreground(lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"}),
	}
}

// Render converts markdown to terminal text wrapped to width. On any
// conversion failure the raw content comes back unchanged.
func (r *MarkdownRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return r.formatForTerminal(buf.String(), width)
}

func (r *MarkdownRenderer) formatForTerminal(htmlContent string, width int) string {
	result := htmlContent

	// Code blocks first, shielded behind placeholders so later tag
	// stripping leaves the highlighted output alone.
	var codeBlocks []string
	result = codeBlockRegex.ReplaceAllStringFunc(result, func(block string) string {
		matches := codeBlockRegex.FindStringSubmatch(block)
		if len(matches) < 3 {
			return block
		}
		code := decodeEntities(matches[2])
		highlighted := r.highlight(code, matches[1])

		codeWidth := width - 6
		if codeWidth < 20 {
			codeWidth = 20
		}
		styled := r.code.Width(codeWidth).Render(highlighted)
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, styled)
		return fmt.Sprintf("\n{{CODE_BLOCK_%d}}\n", idx)
	})

	result = inlineCodeRe.ReplaceAllStringFunc(result, func(tag string) string {
		matches := inlineCodeRe.FindStringSubmatch(tag)
		if len(matches) < 2 {
			return tag
		}
		return r.inline.Render(decodeEntities(matches[1]))
	})

	result = headingRegex.ReplaceAllStringFunc(result, func(tag string) string {
		matches := headingRegex.FindStringSubmatch(tag)
		if len(matches) < 3 {
			return tag
		}
		return r.heading.Render(matches[2]) + "\n"
	})

	result = strongRegex.ReplaceAllStringFunc(result, func(tag string) string {
		matches := strongRegex.FindStringSubmatch(tag)
		if len(matches) < 2 {
			return tag
		}
		return lipgloss.NewStyle().Bold(true).Render(matches[1])
	})
	result = emRegex.ReplaceAllStringFunc(result, func(tag string) string {
		matches := emRegex.FindStringSubmatch(tag)
		if len(matches) < 2 {
			return tag
		}
		return lipgloss.NewStyle().Italic(true).Render(matches[1])
	})

	result = linkRegex.ReplaceAllStringFunc(result, func(tag string) string {
		matches := linkRegex.FindStringSubmatch(tag)
		if len(matches) < 3 {
			return tag
		}
		if matches[1] == matches[2] {
			return r.link.Render(matches[1])
		}
		return r.link.Render(fmt.Sprintf("%s (%s)", matches[2], matches[1]))
	})

	result = blockquoteRe.ReplaceAllStringFunc(result, func(tag string) string {
		matches := blockquoteRe.FindStringSubmatch(tag)
		if len(matches) < 2 {
			return tag
		}
		content := htmlTagRegex.ReplaceAllString(strings.TrimSpace(matches[1]), "")
		return r.quote.Render(content) + "\n"
	})

	result = listRegex.ReplaceAllStringFunc(result, func(tag string) string {
		matches := listRegex.FindStringSubmatch(tag)
		if len(matches) < 3 {
			return tag
		}
		ordered := matches[1] == "ol"
		items := liRegex.FindAllStringSubmatch(matches[2], -1)
		var list strings.Builder
		for i, item := range items {
			if len(item) < 2 {
				continue
			}
			text := htmlTagRegex.ReplaceAllString(item[1], "")
			if ordered {
				list.WriteString(r.bullet.Render(fmt.Sprintf(" %d. ", i+1)))
			} else {
				list.WriteString(r.bullet.Render(" • "))
			}
			list.WriteString(text)
			list.WriteString("\n")
		}
		return list.String()
	})

	result = strings.NewReplacer(
		"<p>", "",
		"</p>", "\n",
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
	).Replace(result)

	for i, block := range codeBlocks {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{CODE_BLOCK_%d}}", i), block)
	}

	result = htmlTagRegex.ReplaceAllString(result, "")
	result = decodeEntities(result)
	result = multiNewline.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// highlight runs chroma over one code block. Unknown languages go
// through the analyser, then the fallback lexer.
func (r *MarkdownRenderer) highlight(code, lang string) string {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&#x60;", "`",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
