package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	domain "github.com/businesswalrus/pup.ai/responder/domain"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider is the adapter for the Google Gemini API. Grounding uses
// the native GoogleSearch tool instead of a hand-rolled search loop.
type GeminiProvider struct {
	apiKey string
	model  string
}

// NewGeminiProvider creates the adapter. An empty apiKey leaves the provider
// registered but unavailable.
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{apiKey: apiKey, model: model}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Available() bool { return p.apiKey != "" }

func (p *GeminiProvider) ModelID() string { return p.model }

func (p *GeminiProvider) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		ToolCalls:       true,
		NativeGrounding: true,
	}
}

// Complete implements domain.Provider for Gemini.
func (p *GeminiProvider) Complete(ctx context.Context, req domain.ChatRequest) (domain.Completion, error) {
	if p.apiKey == "" {
		return domain.Completion{}, domain.NewProviderError(p.Name(), domain.ErrUnauthorized,
			errors.New("no API key configured"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.Completion{}, translateGeminiError(p.Name(), err)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	cfg := &genai.GenerateContentConfig{}
	system := req.SystemPrompt
	if req.ChannelContext != "" {
		if system != "" {
			system += "\n\n"
		}
		system += req.ChannelContext
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, "")
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	applyThinking(cfg, model)

	var contents []*genai.Content
	for _, m := range req.History {
		if m.Text == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Text}},
		})
	}
	if req.PromptText != "" {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: req.PromptText}},
		})
	}

	result, err := generateWithRetry(ctx, client, model, contents, cfg)
	if err != nil {
		return domain.Completion{}, translateGeminiError(p.Name(), err)
	}

	out, err := parseGeminiResponse(p.Name(), model, result)
	if err != nil {
		return domain.Completion{}, err
	}

	logrus.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  out.Usage.InputTokens,
		"output_tokens": out.Usage.OutputTokens,
		"grounded":      out.Grounded,
	}).Debug("[GEMINI] Chat completed")

	return out, nil
}

// parseGeminiResponse extracts the domain completion, classifying blocked
// and empty responses. Split out so it can run against constructed values.
func parseGeminiResponse(provider, model string, result *genai.GenerateContentResponse) (domain.Completion, error) {
	if result == nil {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrMalformedResponse,
			errors.New("nil response"))
	}

	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrSafetyFiltered,
			errors.New("prompt blocked: "+string(result.PromptFeedback.BlockReason)))
	}

	if len(result.Candidates) == 0 {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrMalformedResponse,
			errors.New("no candidates in response"))
	}

	candidate := result.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrSafetyFiltered,
			errors.New("candidate blocked by safety filter"))
	}

	// Collect text parts manually; Text() panics on nil content in some
	// SDK versions.
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrMalformedResponse,
			errors.New("empty candidate text"))
	}

	usage := domain.UsageStats{Model: model}
	if result.UsageMetadata != nil {
		usage.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	return domain.Completion{
		Text:      text,
		ModelID:   model,
		Provider:  provider,
		Usage:     usage,
		Grounded:  candidate.GroundingMetadata != nil,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// translateGeminiError maps SDK errors into the shared failure taxonomy.
func translateGeminiError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewProviderError(provider, domain.ErrUnavailable, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return domain.NewProviderError(provider, domain.ErrRateLimited, err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return domain.NewProviderError(provider, domain.ErrUnauthorized, err)
		case apiErr.Code >= 500:
			return domain.NewProviderError(provider, domain.ErrUnavailable, err)
		default:
			return domain.NewProviderError(provider, domain.ErrUnknown, err)
		}
	}

	return domain.NewProviderError(provider, domain.ErrUnknown, err)
}

func generateWithRetry(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "503") {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * time.Second):
		}
	}
	return nil, lastErr
}

// applyThinking tunes the thinking budget per model family. Conversational
// replies do not need deep reasoning, so thinking stays minimal.
func applyThinking(cfg *genai.GenerateContentConfig, model string) {
	if cfg == nil || model == "" {
		return
	}

	isG3 := strings.Contains(model, "gemini-3")
	isG25 := strings.Contains(model, "gemini-2.5")
	if !isG3 && !isG25 {
		return
	}

	if cfg.ThinkingConfig == nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{}
	}

	if isG3 {
		lvl := "minimal"
		if strings.Contains(model, "pro") {
			lvl = "low"
		}
		cfg.ThinkingConfig.ThinkingLevel = genai.ThinkingLevel(lvl)
		return
	}

	// Gemini 2.5 Pro cannot disable thinking; leave it dynamic there.
	if strings.Contains(model, "pro") {
		budget := int32(-1)
		cfg.ThinkingConfig.ThinkingBudget = &budget
	} else {
		budget := int32(0)
		cfg.ThinkingConfig.ThinkingBudget = &budget
	}
}
