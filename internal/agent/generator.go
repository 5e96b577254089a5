// Package agent generates patient replies: it runs an LLM tool-call
// loop with access to the clinic catalog and the patient's knowledge
// graph. The pipeline consumes it as an opaque "generate reply"
// capability; any fault here becomes an error for the caller to
// substitute.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/berenice-ai/berenice/internal/catalog"
	"github.com/berenice-ai/berenice/internal/prompts"
)

// maxIterations caps the tool-call loop. A model that keeps requesting
// tools past this is not converging on an answer.
const maxIterations = 8

// ChatClient is the completion capability the generator runs on.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*Message, error)
}

// GeneratorConfig holds the generator's dependencies.
type GeneratorConfig struct {
	Client     ChatClient
	Model      string
	Catalog    *catalog.Catalog
	History    HistorySearcher
	ClinicName string
	Logger     *slog.Logger
}

// Generator produces replies to patient messages.
type Generator struct {
	client     ChatClient
	model      string
	catalog    *catalog.Catalog
	history    HistorySearcher
	clinicName string
	logger     *slog.Logger
}

// NewGenerator creates a reply generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:     cfg.Client,
		model:      cfg.Model,
		catalog:    cfg.Catalog,
		history:    cfg.History,
		clinicName: cfg.ClinicName,
		logger:     logger,
	}
}

// Reply generates a reply to one patient message. The patient name is
// advisory context for the model; phone scopes history lookups.
func (g *Generator) Reply(ctx context.Context, phone, patientName, messageText string) (string, error) {
	messages := []Message{
		{Role: "system", Content: prompts.SystemPrompt(g.clinicName)},
		{Role: "user", Content: fmt.Sprintf("Mensagem de %s (telefone %s):\n\n%s", patientName, phone, messageText)},
	}
	tools := toolDefs()

	for iter := 0; iter < maxIterations; iter++ {
		reply, err := g.client.Chat(ctx, g.model, messages, tools)
		if err != nil {
			return "", fmt.Errorf("chat iteration %d: %w", iter, err)
		}

		if len(reply.ToolCalls) == 0 {
			if reply.Content == "" {
				return "", fmt.Errorf("model returned empty reply")
			}
			g.logger.Debug("reply generated",
				"phone", phone,
				"iterations", iter+1,
				"reply_len", len(reply.Content),
			)
			return reply.Content, nil
		}

		messages = append(messages, *reply)
		for _, tc := range reply.ToolCalls {
			result, err := g.callTool(ctx, phone, tc)
			if err != nil {
				// Feed the failure back to the model rather than
				// aborting the turn; it can answer without the tool.
				g.logger.Warn("tool call failed",
					"tool", tc.Function.Name,
					"phone", phone,
					"error", err,
				)
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("tool loop exceeded %d iterations", maxIterations)
}
