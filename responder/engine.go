// Package responder wires context, caching, grounding and the provider
// adapters into one message-processing engine.
package responder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/pkg/botmonitor"
	"github.com/businesswalrus/pup.ai/responder/application"
	"github.com/businesswalrus/pup.ai/responder/domain"
)

// DefaultProviderTimeout bounds every upstream completion call. A provider
// that exceeds it is treated as unavailable.
const DefaultProviderTimeout = 30 * time.Second

// defaultHistoryTurns is how many conversation turns travel upstream.
const defaultHistoryTurns = 20

// Engine routes inbound messages through caching, grounding and whichever
// provider is active. The active provider is engine state, never a global.
type Engine struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
	order     []string
	active    string

	contexts domain.ContextStore
	cache    *application.ResponseCache
	gate     *application.GroundingGate
	prompter *application.Prompter
	monitor  *botmonitor.Monitor

	timeout      time.Duration
	temperature  float64
	maxTokens    int
	historyTurns int
	startTime    time.Time
}

// Option tweaks engine behavior.
type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

func WithHistoryTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyTurns = n
		}
	}
}

func WithMonitor(m *botmonitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// NewEngine assembles the engine. Providers are registered separately so the
// caller controls failover order.
func NewEngine(contexts domain.ContextStore, cache *application.ResponseCache, gate *application.GroundingGate, prompter *application.Prompter, opts ...Option) *Engine {
	e := &Engine{
		providers:    make(map[string]domain.Provider),
		contexts:     contexts,
		cache:        cache,
		gate:         gate,
		prompter:     prompter,
		monitor:      botmonitor.New(0),
		timeout:      DefaultProviderTimeout,
		historyTurns: defaultHistoryTurns,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterProvider adds a provider. Registration order is failover order.
func (e *Engine) RegisterProvider(p domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.providers[p.Name()]; !exists {
		e.order = append(e.order, p.Name())
	}
	e.providers[p.Name()] = p
}

// ActivateDefault picks the startup provider: the preferred one if it is
// registered and available, otherwise the first available by registration
// order.
func (e *Engine) ActivateDefault(preferred string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.providers[preferred]; ok && p.Available() {
		e.active = preferred
		logrus.Infof("[ENGINE] Active provider: %s (%s)", preferred, p.ModelID())
		return nil
	}
	for _, name := range e.order {
		if p := e.providers[name]; p.Available() {
			if preferred != "" {
				logrus.Warnf("[ENGINE] Preferred provider %q unavailable, falling back to %s", preferred, name)
			}
			e.active = name
			logrus.Infof("[ENGINE] Active provider: %s (%s)", name, p.ModelID())
			return nil
		}
	}
	return domain.ErrNoProviderAvailable
}

// ActiveProvider returns the current active provider name.
func (e *Engine) ActiveProvider() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// SwitchProvider changes the active provider at runtime.
func (e *Engine) SwitchProvider(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.providers[name]
	if !ok {
		return domain.ErrProviderNotRegistered
	}
	if !p.Available() {
		return fmt.Errorf("provider %s: %w", name, domain.ErrNoProviderAvailable)
	}
	e.active = name
	logrus.Infof("[ENGINE] Switched active provider to %s (%s)", name, p.ModelID())
	return nil
}

// Monitor exposes the event trail for the status surface.
func (e *Engine) Monitor() *botmonitor.Monitor { return e.monitor }

// Generate runs one inbound message through the full pipeline: template
// rendering, response cache, grounding gate, provider call with bounded
// failover, then context bookkeeping.
func (e *Engine) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Completion, error) {
	if err := req.Validate(); err != nil {
		return domain.Completion{}, err
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	logrus.Infof("[ENGINE] Processing message from %s in %s (Trace: %s)", req.UserID, req.ChannelID, req.TraceID)

	e.monitor.Record(botmonitor.Event{
		TraceID:   req.TraceID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Stage:     botmonitor.StageInbound,
		Status:    "ok",
	})

	prompt, err := e.prompter.EffectivePrompt(req)
	if err != nil {
		return domain.Completion{}, err
	}

	key := req.Key()
	if req.ThreadID != "" {
		e.contexts.SetMetadata(key, "thread_id", req.ThreadID)
	}
	conv := e.contexts.Get(key)

	if cached := e.cache.Get(ctx, prompt, conv, req.IsDirectMessage); cached != nil {
		e.monitor.Record(botmonitor.Event{
			TraceID:   req.TraceID,
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			Provider:  cached.Provider,
			Stage:     botmonitor.StageCacheHit,
			Status:    "ok",
		})
		e.appendTurn(key, req, prompt, cached.Text)
		return *cached, nil
	}

	decision := e.gate.Decide(prompt)
	if decision.Ground {
		e.monitor.Record(botmonitor.Event{
			TraceID:   req.TraceID,
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			Stage:     botmonitor.StageGrounding,
			Status:    "ok",
			Metadata:  map[string]string{"category": decision.Category},
		})
	}

	chatReq := domain.ChatRequest{
		SystemPrompt:   e.prompter.SystemPrompt(),
		ChannelContext: e.prompter.ChannelSnapshot(e.contexts.ChannelWide(req.ChannelID)),
		History:        conv.LastMessages(e.historyTurns),
		PromptText:     prompt,
		Grounding:      decision.Ground,
		Temperature:    e.temperature,
		MaxTokens:      e.maxTokens,
	}

	completion, err := e.completeWithFailover(ctx, req, chatReq)
	if err != nil {
		e.monitor.Record(botmonitor.Event{
			TraceID:   req.TraceID,
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			Stage:     botmonitor.StageAIReply,
			Status:    "error",
			Error:     err.Error(),
		})
		return domain.Completion{}, err
	}

	e.cache.Put(ctx, prompt, conv, req.IsDirectMessage, &completion)
	e.appendTurn(key, req, prompt, completion.Text)

	e.monitor.Record(botmonitor.Event{
		TraceID:   req.TraceID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Provider:  completion.Provider,
		Stage:     botmonitor.StageAIReply,
		Status:    "ok",
		Metadata: map[string]string{
			"model":    completion.ModelID,
			"grounded": fmt.Sprintf("%v", completion.Grounded),
		},
	})

	return completion, nil
}

// appendTurn records the user prompt and assistant reply in the context
// store. The raw user text goes in, not the rendered template.
func (e *Engine) appendTurn(key domain.ConversationKey, req domain.GenerateRequest, prompt, reply string) {
	userText := req.Text
	if userText == "" {
		userText = prompt
	}
	e.contexts.Append(key, domain.Message{
		Role:     domain.RoleUser,
		Text:     userText,
		AuthorID: req.UserID,
	})
	e.contexts.Append(key, domain.Message{
		Role: domain.RoleAssistant,
		Text: reply,
	})
}

// completeWithFailover calls the active provider, and on failure retries
// exactly once against the first other available provider. No recursion, no
// second retry.
func (e *Engine) completeWithFailover(ctx context.Context, req domain.GenerateRequest, chatReq domain.ChatRequest) (domain.Completion, error) {
	primary := e.pickPrimary()
	if primary == nil {
		return domain.Completion{}, domain.ErrNoProviderAvailable
	}

	result, err := e.callProvider(ctx, req, primary, chatReq)
	if err == nil {
		return result, nil
	}

	fallback := e.pickFallback(primary.Name())
	if fallback == nil {
		return domain.Completion{}, err
	}

	logrus.WithError(err).Warnf("[ENGINE] Provider %s failed (%s), failing over to %s",
		primary.Name(), domain.KindOf(err), fallback.Name())
	e.monitor.Record(botmonitor.Event{
		TraceID:   req.TraceID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Provider:  fallback.Name(),
		Stage:     botmonitor.StageFailover,
		Status:    "ok",
		Metadata:  map[string]string{"from": primary.Name(), "reason": string(domain.KindOf(err))},
	})

	result, ferr := e.callProvider(ctx, req, fallback, chatReq)
	if ferr != nil {
		return domain.Completion{}, ferr
	}
	return result, nil
}

func (e *Engine) pickPrimary() domain.Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if p, ok := e.providers[e.active]; ok && p.Available() {
		return p
	}
	for _, name := range e.order {
		if p := e.providers[name]; p.Available() {
			return p
		}
	}
	return nil
}

func (e *Engine) pickFallback(exclude string) domain.Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, name := range e.order {
		if name == exclude {
			continue
		}
		if p := e.providers[name]; p.Available() {
			return p
		}
	}
	return nil
}

func (e *Engine) callProvider(ctx context.Context, req domain.GenerateRequest, p domain.Provider, chatReq domain.ChatRequest) (domain.Completion, error) {
	e.monitor.Record(botmonitor.Event{
		TraceID:   req.TraceID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Provider:  p.Name(),
		Stage:     botmonitor.StageAIRequest,
		Status:    "ok",
	})

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := p.Complete(callCtx, chatReq)
	elapsed := time.Since(start)

	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider": p.Name(),
			"elapsed":  elapsed.Round(time.Millisecond).String(),
		}).Error("[ENGINE] Provider call failed")
		return domain.Completion{}, err
	}
	return result, nil
}

// ProviderStatus is one provider's row in the status report.
type ProviderStatus struct {
	Name         string              `json:"name"`
	ModelID      string              `json:"model_id"`
	Available    bool                `json:"available"`
	Active       bool                `json:"active"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// Status is the admin status report.
type Status struct {
	ActiveProvider string           `json:"active_provider"`
	Providers      []ProviderStatus `json:"providers"`
	Conversations  string           `json:"conversations"`
	CacheEntries   string           `json:"cache_entries"`
	Uptime         string           `json:"uptime"`
	Monitor        botmonitor.Stats `json:"monitor"`
}

// Status reports provider availability, store occupancy and pipeline totals.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.RLock()
	active := e.active
	providers := make([]ProviderStatus, 0, len(e.order))
	for _, name := range e.order {
		p := e.providers[name]
		providers = append(providers, ProviderStatus{
			Name:         name,
			ModelID:      p.ModelID(),
			Available:    p.Available(),
			Active:       name == active,
			Capabilities: p.Capabilities(),
		})
	}
	e.mu.RUnlock()

	cacheLen, err := e.cache.Len(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[ENGINE] Could not read cache occupancy")
	}

	return Status{
		ActiveProvider: active,
		Providers:      providers,
		Conversations:  humanize.Comma(int64(e.contexts.Len())),
		CacheEntries:   humanize.Comma(int64(cacheLen)),
		Uptime:         humanize.Time(e.startTime),
		Monitor:        e.monitor.GetStats(),
	}
}

// ClearCache drops every cached response.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}

// ClearConversation drops one conversation's history.
func (e *Engine) ClearConversation(key domain.ConversationKey) {
	e.contexts.Clear(key)
}
