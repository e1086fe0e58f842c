package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

func TestPrompter_RenderSubstitutesVariables(t *testing.T) {
	p := NewPrompter("", map[string]string{
		"greeting": "Hello {{ name }}, welcome to {{channel}}!",
	})

	out, err := p.Render("greeting", map[string]string{"name": "Casey", "channel": "#general"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Casey, welcome to #general!", out)
}

func TestPrompter_RenderUnknownTemplate(t *testing.T) {
	p := NewPrompter("", nil)

	_, err := p.Render("nope", nil)
	require.Error(t, err)

	var tmplErr *domain.TemplateError
	require.True(t, errors.As(err, &tmplErr))
	assert.Equal(t, "nope", tmplErr.TemplateID)
}

func TestPrompter_RenderMissingVariables(t *testing.T) {
	p := NewPrompter("", map[string]string{
		"report": "Status for {{service}} at {{timestamp}}",
	})

	_, err := p.Render("report", map[string]string{"service": "api"})
	require.Error(t, err)

	var tmplErr *domain.TemplateError
	require.True(t, errors.As(err, &tmplErr))
	assert.Equal(t, []string{"timestamp"}, tmplErr.Missing)
}

func TestPrompter_EffectivePrompt(t *testing.T) {
	p := NewPrompter("", map[string]string{"echo": "say {{word}}"})

	// Raw text passes through untouched when no template is requested.
	out, err := p.EffectivePrompt(domain.GenerateRequest{Text: "hello {{world}}"})
	require.NoError(t, err)
	assert.Equal(t, "hello {{world}}", out)

	out, err = p.EffectivePrompt(domain.GenerateRequest{
		TemplateID: "echo",
		Variables:  map[string]string{"word": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "say hi", out)
}

func TestPrompter_ChannelSnapshot(t *testing.T) {
	p := NewPrompter("system", nil)

	assert.Empty(t, p.ChannelSnapshot(nil))

	snapshot := p.ChannelSnapshot([]domain.Message{
		{Role: domain.RoleUser, AuthorID: "U1", Text: "anyone seen the deploy fail?", Timestamp: time.Now()},
		{Role: domain.RoleAssistant, Text: "the deploy completed at noon", Timestamp: time.Now()},
	})
	assert.Contains(t, snapshot, "- U1: anyone seen the deploy fail?")
	assert.Contains(t, snapshot, "- assistant: the deploy completed at noon")
	assert.Contains(t, snapshot, "for context only")
}
