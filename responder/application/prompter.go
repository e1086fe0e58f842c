package application

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Prompter assembles the effective prompt for a turn: template rendering
// plus the system-instruction block with the channel-context snapshot.
type Prompter struct {
	systemPrompt string
	templates    map[string]string
}

func NewPrompter(systemPrompt string, templates map[string]string) *Prompter {
	if templates == nil {
		templates = make(map[string]string)
	}
	return &Prompter{systemPrompt: systemPrompt, templates: templates}
}

// RegisterTemplate adds or replaces a named template body.
func (p *Prompter) RegisterTemplate(id, body string) {
	p.templates[id] = body
}

// Render substitutes named variables into the template body. Unresolved
// placeholders are an error, never silently emitted.
func (p *Prompter) Render(templateID string, vars map[string]string) (string, error) {
	body, ok := p.templates[templateID]
	if !ok {
		return "", &domain.TemplateError{TemplateID: templateID}
	}

	var missing []string
	rendered := placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", &domain.TemplateError{TemplateID: templateID, Missing: missing}
	}
	return rendered, nil
}

// EffectivePrompt resolves the text for a turn: template if requested,
// otherwise the raw message verbatim.
func (p *Prompter) EffectivePrompt(req domain.GenerateRequest) (string, error) {
	if req.TemplateID == "" {
		return req.Text, nil
	}
	return p.Render(req.TemplateID, req.Variables)
}

// SystemPrompt returns the configured system instructions.
func (p *Prompter) SystemPrompt() string {
	return p.systemPrompt
}

// ChannelSnapshot renders recent cross-user channel activity into a note the
// adapters place after the system instructions. Empty when the channel has
// been quiet.
func (p *Prompter) ChannelSnapshot(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent channel activity (for context only, do not quote verbatim):\n")
	for _, m := range messages {
		author := m.AuthorID
		if author == "" {
			author = string(m.Role)
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", author, m.Text))
	}
	return sb.String()
}
