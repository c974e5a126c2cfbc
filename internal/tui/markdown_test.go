package tui

import (
	"strings"
	"testing"
)

func TestRenderHeadingKeepsText(t *testing.T) {
	r := NewMarkdownRenderer()
	out := r.Render("# Release notes", 80)
	if !strings.Contains(out, "Release notes") {
		t.Fatalf("heading text lost: %q", out)
	}
	if strings.Contains(out, "<h1") || strings.Contains(out, "id=") {
		t.Fatalf("html leaked through: %q", out)
	}
}

func TestRenderInlineCode(t *testing.T) {
	r := NewMarkdownRenderer()
	out := r.Render("run `go build` first", 80)
	if !strings.Contains(out, "go build") {
		t.Fatalf("inline code lost: %q", out)
	}
	if strings.Contains(out, "<code>") {
		t.Fatalf("html leaked through: %q", out)
	}
}

func TestRenderFencedBlockKeepsCode(t *testing.T) {
	r := NewMarkdownRenderer()
	src := "Before.\n\n```go\nfmt.Println(\"hi\")\n```\n\nAfter."
	out := r.Render(src, 80)
	if !strings.Contains(out, "fmt") || !strings.Contains(out, "Println") {
		t.Fatalf("code content lost: %q", out)
	}
	if strings.Contains(out, "{{CODE_BLOCK") {
		t.Fatalf("placeholder leaked through: %q", out)
	}
	if strings.Contains(out, "<pre>") {
		t.Fatalf("html leaked through: %q", out)
	}
}

func TestRenderUnorderedList(t *testing.T) {
	r := NewMarkdownRenderer()
	out := r.Render("- first thing\n- second thing", 80)
	if !strings.Contains(out, "•") {
		t.Fatalf("no bullets: %q", out)
	}
	if !strings.Contains(out, "first thing") || !strings.Contains(out, "second thing") {
		t.Fatalf("items lost: %q", out)
	}
}

func TestRenderOrderedList(t *testing.T) {
	r := NewMarkdownRenderer()
	out := r.Render("1. alpha\n2. beta", 80)
	if !strings.Contains(out, " 1. ") || !strings.Contains(out, " 2. ") {
		t.Fatalf("numbering lost: %q", out)
	}
}

func TestRenderLinks(t *testing.T) {
	r := NewMarkdownRenderer()

	out := r.Render("[docs](https://example.dev)", 80)
	if !strings.Contains(out, "docs (https://example.dev)") {
		t.Fatalf("labelled link: %q", out)
	}

	out = r.Render("[https://example.dev](https://example.dev)", 80)
	if strings.Contains(out, "(https://example.dev)") {
		t.Fatalf("bare link should not repeat the url: %q", out)
	}
	if !strings.Contains(out, "https://example.dev") {
		t.Fatalf("url lost: %q", out)
	}
}

func TestRenderDecodesEntities(t *testing.T) {
	r := NewMarkdownRenderer()
	out := r.Render("a < b & c", 80)
	if !strings.Contains(out, "a < b & c") {
		t.Fatalf("entities not decoded: %q", out)
	}
}

func TestRenderTinyWidthDoesNotPanic(t *testing.T) {
	r := NewMarkdownRenderer()
	_ = r.Render("```\ncode\n```", 5)
	_ = r.Render("plain", 0)
}
