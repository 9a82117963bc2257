package ui

import (
	"strings"
	"testing"
)

func TestRenderersPreserveContent(t *testing.T) {
	renderers := map[string]func(string) string{
		"pass":   RenderPass,
		"fail":   RenderFail,
		"warn":   RenderWarn,
		"accent": RenderAccent,
		"muted":  RenderMuted,
	}

	for name, render := range renderers {
		got := render("sync complete")
		if !strings.Contains(got, "sync complete") {
			t.Errorf("%s: rendered output %q lost the content", name, got)
		}
	}
}
