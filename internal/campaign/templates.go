package campaign

import (
	"fmt"
	"html"
	"strings"

	"github.com/osteele/liquid"
)

// TemplateKind is the closed set of campaign layouts. Anything the
// dashboard sends that we do not recognize renders as custom, which wraps
// the content in nothing at all.
type TemplateKind int

const (
	TemplateCustom TemplateKind = iota
	TemplatePromotional
	TemplateNewsletter
	TemplateAnnouncement
)

// KindFromName maps a stored template name to its kind. Unknown names
// fall back to custom.
func KindFromName(name string) TemplateKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "promotional", "promo":
		return TemplatePromotional
	case "newsletter":
		return TemplateNewsletter
	case "announcement":
		return TemplateAnnouncement
	default:
		return TemplateCustom
	}
}

// Renderer produces per-recipient campaign bodies. Content goes through
// the Liquid engine so `{{name}}` and richer expressions both work; a
// template that fails to parse falls back to plain tag replacement.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer creates a campaign renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// RenderContent substitutes recipient bindings into campaign content.
func (r *Renderer) RenderContent(content string, bindings map[string]interface{}) string {
	out, err := r.engine.ParseAndRenderString(content, bindings)
	if err != nil {
		return replaceTags(content, bindings)
	}
	return out
}

// RenderBody wraps rendered content in the layout for the given template
// kind and returns the HTML body.
func (r *Renderer) RenderBody(templateName, subject, content string, bindings map[string]interface{}) string {
	body := r.RenderContent(content, bindings)
	switch KindFromName(templateName) {
	case TemplatePromotional:
		return fmt.Sprintf(`<div style="font-family:sans-serif"><h1 style="color:#c0392b">%s</h1><div>%s</div><hr><p style="font-size:12px;color:#888">You are receiving this promotional offer as a valued customer.</p></div>`,
			html.EscapeString(subject), body)
	case TemplateNewsletter:
		return fmt.Sprintf(`<div style="font-family:serif;max-width:640px;margin:0 auto"><h2>%s</h2><div>%s</div></div>`,
			html.EscapeString(subject), body)
	case TemplateAnnouncement:
		return fmt.Sprintf(`<div style="font-family:sans-serif"><h2 style="border-bottom:2px solid #2c3e50">%s</h2><div>%s</div></div>`,
			html.EscapeString(subject), body)
	default:
		return body
	}
}

// replaceTags is the lax fallback used when Liquid cannot parse the
// content: straight replacement of the {{name}}-style tags.
func replaceTags(content string, bindings map[string]interface{}) string {
	out := content
	for key, val := range bindings {
		str := fmt.Sprintf("%v", val)
		out = strings.ReplaceAll(out, "{{"+key+"}}", str)
		out = strings.ReplaceAll(out, "{{ "+key+" }}", str)
	}
	return out
}
