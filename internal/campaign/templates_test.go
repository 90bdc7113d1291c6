package campaign

import (
	"strings"
	"testing"
)

func TestKindFromName(t *testing.T) {
	tests := []struct {
		name string
		want TemplateKind
	}{
		{"promotional", TemplatePromotional},
		{"promo", TemplatePromotional},
		{"Newsletter", TemplateNewsletter},
		{" announcement ", TemplateAnnouncement},
		{"custom", TemplateCustom},
		{"", TemplateCustom},
		{"something-new", TemplateCustom},
	}
	for _, tt := range tests {
		if got := KindFromName(tt.name); got != tt.want {
			t.Errorf("KindFromName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRenderContent_LiquidBindings(t *testing.T) {
	r := NewRenderer()
	out := r.RenderContent("Hello {{name}}, your email is {{ email }}.",
		map[string]interface{}{"name": "Sara", "email": "sara@x.com"})
	if out != "Hello Sara, your email is sara@x.com." {
		t.Errorf("RenderContent() = %q", out)
	}
}

func TestRenderContent_FallbackOnBadLiquid(t *testing.T) {
	r := NewRenderer()
	// Unterminated tag breaks the Liquid parser; plain replacement still
	// substitutes what it can.
	out := r.RenderContent("Hi {{name}}, {% if", map[string]interface{}{"name": "Sara"})
	if !strings.Contains(out, "Sara") {
		t.Errorf("fallback did not substitute: %q", out)
	}
}

func TestRenderBody_Layouts(t *testing.T) {
	r := NewRenderer()
	bindings := map[string]interface{}{"name": "Sara"}

	promo := r.RenderBody("promotional", "Sale", "Hi {{name}}", bindings)
	if !strings.Contains(promo, "Hi Sara") || !strings.Contains(promo, "promotional offer") {
		t.Errorf("promotional body = %q", promo)
	}

	custom := r.RenderBody("custom", "Sale", "Hi {{name}}", bindings)
	if custom != "Hi Sara" {
		t.Errorf("custom body should be bare content, got %q", custom)
	}
}

func TestRenderBody_EscapesSubject(t *testing.T) {
	r := NewRenderer()
	out := r.RenderBody("announcement", `<script>alert(1)</script>`, "body", nil)
	if strings.Contains(out, "<script>") {
		t.Errorf("subject not escaped: %q", out)
	}
}
