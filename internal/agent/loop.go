// Package agent runs the conversational orchestrator: history window,
// persona prompt, bounded tool-calling loop, reply delivery.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sorryformyhair/dmflow/internal/providers"
	"github.com/sorryformyhair/dmflow/internal/store"
	"github.com/sorryformyhair/dmflow/internal/tools"
)

var tracer = otel.Tracer("dmflow/agent")

// Sender delivers the final reply to the user.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Config configures an Orchestrator.
type Config struct {
	Provider      providers.Provider
	Model         string
	Temperature   float64
	MaxTokens     int
	HistoryTurns  int
	MaxIterations int
	History       store.HistoryStore
	Tools         *tools.Registry
	Sender        Sender
}

// Orchestrator drives one LLM consultation per aggregated user message.
// Turns for the same user are strictly serialized; different users run
// concurrently.
type Orchestrator struct {
	provider      providers.Provider
	model         string
	temperature   float64
	maxTokens     int
	historyTurns  int
	maxIterations int
	history       store.HistoryStore
	tools         *tools.Registry
	sender        Sender

	userMu sync.Map // userID → *sync.Mutex
}

func New(cfg Config) *Orchestrator {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	return &Orchestrator{
		provider:      cfg.Provider,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		historyTurns:  cfg.HistoryTurns,
		maxIterations: cfg.MaxIterations,
		history:       cfg.History,
		tools:         cfg.Tools,
		sender:        cfg.Sender,
	}
}

// HandleTurn processes one aggregated inbound message. It never returns an
// error for engine or tool failures: those end in an apology reply so the
// buffer row upstream is still consumed. Only delivery-boundary errors
// propagate (the caller retries the whole row in that case).
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, text string) error {
	mu := o.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ctx, span := tracer.Start(ctx, "agent.HandleTurn",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	ctx = tools.WithUserID(ctx, userID)

	reply, persist, err := o.run(ctx, userID, text)
	if err != nil {
		slog.Error("agent run failed, sending apology", "user", userID, "error", err)
		span.RecordError(err)
		reply, persist = apologyReply, false
	}

	if persist {
		if err := o.history.Append(ctx, userID, store.Turn{Role: store.RoleHuman, Content: text}); err != nil {
			slog.Error("failed to persist human turn", "user", userID, "error", err)
		} else if err := o.history.Append(ctx, userID, store.Turn{Role: store.RoleAssistant, Content: reply}); err != nil {
			slog.Error("failed to persist assistant turn", "user", userID, "error", err)
		}
	}

	if err := o.sender.Send(ctx, userID, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// run executes the bounded tool loop and returns the reply text plus
// whether the turn should be written to history.
func (o *Orchestrator) run(ctx context.Context, userID, text string) (reply string, persist bool, err error) {
	msgs, err := o.buildMessages(ctx, userID, text)
	if err != nil {
		return "", false, err
	}
	toolDefs := o.tools.Definitions()

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		resp, err := o.provider.Chat(ctx, providers.ChatRequest{
			Messages:    msgs,
			Tools:       toolDefs,
			Model:       o.model,
			MaxTokens:   o.maxTokens,
			Temperature: &o.temperature,
		})
		if err != nil {
			return "", false, fmt.Errorf("chat iteration %d: %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return "", false, fmt.Errorf("chat iteration %d: empty response", iteration)
			}
			return resp.Content, true, nil
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := o.executeTool(ctx, userID, tc)
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	slog.Warn("tool loop hit iteration cap", "user", userID, "cap", o.maxIterations)
	return fallbackReply, true, nil
}

func (o *Orchestrator) executeTool(ctx context.Context, userID string, tc providers.ToolCall) *tools.Result {
	ctx, span := tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(
			attribute.String("tool.name", tc.Name),
			attribute.String("user.id", userID)))
	defer span.End()

	slog.Debug("executing tool", "user", userID, "tool", tc.Name)
	result := o.tools.Execute(ctx, tc.Name, tc.Arguments)
	if result.IsError {
		slog.Warn("tool returned error", "user", userID, "tool", tc.Name, "message", result.ForLLM)
		if result.Err != nil {
			span.RecordError(result.Err)
		}
	}
	return result
}

func (o *Orchestrator) buildMessages(ctx context.Context, userID, text string) ([]providers.Message, error) {
	turns, err := o.history.Recent(ctx, userID, o.historyTurns)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]providers.Message, 0, len(turns)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: systemPrompt})
	for _, t := range turns {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: text})
	return msgs, nil
}

func (o *Orchestrator) lockFor(userID string) *sync.Mutex {
	mu, _ := o.userMu.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
