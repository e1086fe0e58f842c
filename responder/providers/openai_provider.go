package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/pkg/websearch"
	domain "github.com/businesswalrus/pup.ai/responder/domain"
)

const (
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-4o-mini"

	// maxToolRounds bounds the grounding tool-call loop. The model gets at
	// most this many chances to request tools before we force a final answer.
	maxToolRounds = 4

	groundingInstruction = "The user's question likely depends on current, real-world information. " +
		"Use the available search tools to look up fresh facts before answering. " +
		"Do not guess at scores, dates, prices or weather. Cite what you found."
)

// OpenAIProvider is the adapter for the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey string
	model  string
	search *websearch.Client
}

// NewOpenAIProvider creates the adapter. An empty apiKey leaves the provider
// registered but unavailable.
func NewOpenAIProvider(apiKey, model string, search *websearch.Client) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if search == nil {
		search = websearch.NewClient()
	}
	return &OpenAIProvider{apiKey: apiKey, model: model, search: search}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Available() bool { return p.apiKey != "" }

func (p *OpenAIProvider) ModelID() string { return p.model }

// Capabilities reports tool support. Reasoning models reject function
// calling in chat completions, so grounding degrades to a plain request.
func (p *OpenAIProvider) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		ToolCalls:       !isReasoningModel(p.model),
		NativeGrounding: false,
	}
}

func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3")
}

// Complete implements domain.Provider for OpenAI.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.ChatRequest) (domain.Completion, error) {
	if p.apiKey == "" {
		return domain.Completion{}, domain.NewProviderError(p.Name(), domain.ErrUnauthorized,
			errors.New("no API key configured"))
	}

	client := openai.NewClient(
		option.WithAPIKey(p.apiKey),
	)

	model := req.Model
	if model == "" {
		model = p.model
	}

	useTools := req.Grounding && !isReasoningModel(model)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	if req.ChannelContext != "" {
		messages = append(messages, openai.SystemMessage(req.ChannelContext))
	}
	if useTools {
		messages = append(messages, openai.SystemMessage(groundingInstruction))
	}
	for _, m := range req.History {
		if m.Role == domain.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Text))
		} else {
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}
	if req.PromptText != "" {
		messages = append(messages, openai.UserMessage(req.PromptText))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if useTools {
		params.Tools = groundingTools()
	}

	grounded := false
	var completion *openai.ChatCompletion

	rounds := 1
	if useTools {
		rounds = maxToolRounds
	}

	for round := 0; round < rounds; round++ {
		var err error
		completion, err = client.Chat.Completions.New(ctx, params)
		if err != nil {
			return domain.Completion{}, translateOpenAIError(p.Name(), err)
		}

		if len(completion.Choices) == 0 {
			return domain.Completion{}, domain.NewProviderError(p.Name(), domain.ErrMalformedResponse,
				errors.New("no choices in response"))
		}

		choice := completion.Choices[0]
		if len(choice.Message.ToolCalls) == 0 || round == rounds-1 {
			break
		}

		params.Messages = append(params.Messages, choice.Message.ToParam())
		for _, tc := range choice.Message.ToolCalls {
			grounded = true
			result := p.runTool(ctx, tc.Function.Name, tc.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(result, tc.ID))
		}
	}

	out, err := parseOpenAICompletion(p.Name(), model, completion)
	if err != nil {
		return domain.Completion{}, err
	}
	out.Grounded = grounded

	logrus.WithFields(logrus.Fields{
		"model":         model,
		"input_tokens":  out.Usage.InputTokens,
		"output_tokens": out.Usage.OutputTokens,
		"grounded":      grounded,
	}).Debug("[OPENAI] Chat completed")

	return out, nil
}

// parseOpenAICompletion extracts the domain completion, classifying empty
// and filtered responses. Split out so it can run against constructed values.
func parseOpenAICompletion(provider, model string, completion *openai.ChatCompletion) (domain.Completion, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrMalformedResponse,
			errors.New("no choices in response"))
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrSafetyFiltered,
			errors.New("completion truncated by content filter"))
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return domain.Completion{}, domain.NewProviderError(provider, domain.ErrMalformedResponse,
			errors.New("empty completion text"))
	}

	return domain.Completion{
		Text:     text,
		ModelID:  model,
		Provider: provider,
		Usage: domain.UsageStats{
			Model:        model,
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// translateOpenAIError maps SDK errors into the shared failure taxonomy.
func translateOpenAIError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewProviderError(provider, domain.ErrUnavailable, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return domain.NewProviderError(provider, domain.ErrRateLimited, err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return domain.NewProviderError(provider, domain.ErrUnauthorized, err)
		case apiErr.StatusCode >= 500:
			return domain.NewProviderError(provider, domain.ErrUnavailable, err)
		default:
			return domain.NewProviderError(provider, domain.ErrUnknown, err)
		}
	}

	return domain.NewProviderError(provider, domain.ErrUnknown, err)
}

func groundingTools() []openai.ChatCompletionToolUnionParam {
	querySchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}
	urlSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to fetch"},
		},
		"required": []string{"url"},
	}

	return []openai.ChatCompletionToolUnionParam{
		functionTool("web_search", "Search the web for current information.", querySchema),
		functionTool("sports_scores", "Look up recent sports scores and game results.", querySchema),
		functionTool("fetch_page", "Fetch a web page and return its readable text.", urlSchema),
	}
}

func functionTool(name, description string, schema map[string]any) openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(description),
				Parameters:  openai.FunctionParameters(schema),
			},
		},
	}
}

// runTool executes a grounding tool call. Tool failures are reported back to
// the model as text so it can answer from what it has.
func (p *OpenAIProvider) runTool(ctx context.Context, name, rawArgs string) string {
	var args struct {
		Query string `json:"query"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Sprintf("tool error: invalid arguments: %v", err)
	}

	logrus.WithFields(logrus.Fields{"tool": name, "query": args.Query, "url": args.URL}).
		Debug("[OPENAI] Executing grounding tool")

	switch name {
	case "web_search":
		results, err := p.search.Search(ctx, args.Query)
		if err != nil {
			return fmt.Sprintf("tool error: %v", err)
		}
		return websearch.FormatResults(results)
	case "sports_scores":
		results, err := p.search.Search(ctx, args.Query+" final score result")
		if err != nil {
			return fmt.Sprintf("tool error: %v", err)
		}
		return websearch.FormatResults(results)
	case "fetch_page":
		text, err := p.search.FetchPage(ctx, args.URL)
		if err != nil {
			return fmt.Sprintf("tool error: %v", err)
		}
		return text
	default:
		return fmt.Sprintf("tool error: unknown tool %q", name)
	}
}
