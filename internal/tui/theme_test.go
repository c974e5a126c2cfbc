package tui

import "testing"

func TestNewThemeDefaults(t *testing.T) {
	t.Setenv("LOOM_THEME", "")
	t.Setenv("LOOM_NO_COLOR", "")

	if got := NewTheme("").Name; got != ThemePorcelain {
		t.Fatalf("NewTheme(\"\") = %q, want porcelain", got)
	}
	if got := NewTheme("default").Name; got != ThemePorcelain {
		t.Fatalf("NewTheme(default) = %q, want porcelain", got)
	}
	if got := NewTheme("midnight").Name; got != ThemeMidnight {
		t.Fatalf("NewTheme(midnight) = %q", got)
	}
	if got := NewTheme("neon").Name; got != ThemePorcelain {
		t.Fatalf("unknown theme should fall back to porcelain, got %q", got)
	}
}

func TestNewThemeEnvOverridesConfig(t *testing.T) {
	t.Setenv("LOOM_THEME", "midnight")
	t.Setenv("LOOM_NO_COLOR", "")

	if got := NewTheme("porcelain").Name; got != ThemeMidnight {
		t.Fatalf("LOOM_THEME should win, got %q", got)
	}
}

func TestNewThemeNoColor(t *testing.T) {
	t.Setenv("LOOM_NO_COLOR", "1")

	theme := NewTheme("midnight")
	if theme.Name != "no-color" {
		t.Fatalf("LOOM_NO_COLOR should pick the no-color theme, got %q", theme.Name)
	}
	// Accent styles must still render; they fall back to primary text.
	if out := theme.Spinner.Render("x"); out == "" {
		t.Fatal("spinner style renders nothing")
	}
}
