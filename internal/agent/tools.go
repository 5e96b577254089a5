package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berenice-ai/berenice/internal/catalog"
	"github.com/berenice-ai/berenice/internal/graphiti"
)

// HistorySearcher is the slice of the fact-store gateway the agent
// needs for patient history lookups.
type HistorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]graphiti.Fact, error)
}

// toolDefs returns the OpenAI tool schema for every capability the
// agent may invoke during a turn.
func toolDefs() []map[string]any {
	fn := func(name, description string, params map[string]any) map[string]any {
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		return map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        name,
				"description": description,
				"parameters":  params,
			},
		}
	}

	queryParam := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}

	return []map[string]any{
		fn("search_patient_history",
			"Search the patient's history in the knowledge graph: previous conversations, treatments of interest, preferences, objections.",
			queryParam),
		fn("search_treatment",
			"Search offered treatments by name, symptom, or keyword.",
			queryParam),
		fn("get_treatment_info",
			"Get full details of one treatment by its ID (e.g. 'limpeza', 'clareamento').",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"treatment_id": map[string]any{"type": "string"},
				},
				"required": []string{"treatment_id"},
			}),
		fn("search_faq",
			"Search frequently asked questions about the clinic.",
			queryParam),
		fn("get_objection_response",
			"Get suggested responses for a common objection: price, time, fear, think.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"objection_type": map[string]any{"type": "string"},
				},
				"required": []string{"objection_type"},
			}),
		fn("get_payment_options", "Get accepted payment methods and installment terms.", nil),
		fn("get_insurance_list", "Get accepted dental insurance providers.", nil),
		fn("calculate_installments",
			"Calculate installment options for a treatment amount in BRL.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"amount": map[string]any{"type": "number"},
					"months": map[string]any{"type": "integer", "description": "Interest-free months, default 12"},
				},
				"required": []string{"amount"},
			}),
		fn("check_availability",
			"Check available appointment slots, optionally filtered by period (morning, afternoon, evening).",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"preferred_period": map[string]any{"type": "string"},
				},
			}),
	}
}

// callTool dispatches one tool invocation and returns the JSON-encoded
// result. Unknown tools and bad arguments return an error the loop
// converts into a tool message, so the model can recover.
func (g *Generator) callTool(ctx context.Context, phone string, tc ToolCall) (string, error) {
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return "", fmt.Errorf("parse %s arguments: %w", tc.Function.Name, err)
		}
	}

	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}

	switch tc.Function.Name {
	case "search_patient_history":
		// Scope the query to this patient's phone so facts from other
		// conversations never leak in.
		facts, err := g.history.Search(ctx, phone+" "+str("query"), 5)
		if err != nil {
			return "", err
		}
		return marshalResult(facts)

	case "search_treatment":
		return marshalResult(g.catalog.SearchTreatments(str("query")))

	case "get_treatment_info":
		tr, ok := g.catalog.TreatmentByID(str("treatment_id"))
		if !ok {
			return `{}`, nil
		}
		return marshalResult(tr)

	case "search_faq":
		return marshalResult(g.catalog.SearchFAQs(str("query")))

	case "get_objection_response":
		return marshalResult(g.catalog.ObjectionResponses(str("objection_type")))

	case "get_payment_options":
		return marshalResult(g.catalog.Payment())

	case "get_insurance_list":
		return marshalResult(g.catalog.Insurance())

	case "calculate_installments":
		amount, _ := args["amount"].(float64)
		months := 0
		if m, ok := args["months"].(float64); ok {
			months = int(m)
		}
		return marshalResult(catalog.CalculateInstallments(amount, months))

	case "check_availability":
		return marshalResult(catalog.AvailableSlots(str("preferred_period")))

	default:
		return "", fmt.Errorf("unknown tool %q", tc.Function.Name)
	}
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(data), nil
}
