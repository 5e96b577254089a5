// Package graphiti is a thin client for the Graphiti knowledge-graph
// service. It translates conversation activity into episodes and
// answers "what do we know about this patient" queries; all indexing
// and consistency is owned by the service itself.
package graphiti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// EpisodeSource mirrors Graphiti's episode source types.
type EpisodeSource string

const (
	SourceText EpisodeSource = "text"
	SourceJSON EpisodeSource = "json"
)

// Episode is one durable record added to the knowledge graph.
type Episode struct {
	Name              string        `json:"name"`
	Body              string        `json:"episode_body"`
	Source            EpisodeSource `json:"source"`
	SourceDescription string        `json:"source_description"`
	ReferenceTime     time.Time     `json:"reference_time"`
}

// Fact is one edge returned by a graph search.
type Fact struct {
	UUID      string `json:"uuid"`
	Fact      string `json:"fact"`
	ValidAt   string `json:"valid_at,omitempty"`
	InvalidAt string `json:"invalid_at,omitempty"`
}

// ClientConfig holds the service endpoint settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration // Per-request; default 30s
	Logger  *slog.Logger
}

// Client talks to a Graphiti service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Graphiti client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:8001"
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graphiti %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graphiti %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// AddEpisode appends one episode to the graph.
func (c *Client) AddEpisode(ctx context.Context, ep Episode) error {
	if ep.ReferenceTime.IsZero() {
		ep.ReferenceTime = time.Now().UTC()
	}
	return c.postJSON(ctx, "/episodes", ep, nil)
}

// AddConversationEpisode records one inbound patient message as a JSON
// episode tagged with the originating message ID and a server
// timestamp.
func (c *Client) AddConversationEpisode(ctx context.Context, phone, patientName, messageText, messageID string) error {
	now := time.Now().UTC()
	content := map[string]any{
		"phone":        phone,
		"patient_name": patientName,
		"message":      messageText,
		"message_type": "text",
		"message_id":   messageID,
		"timestamp":    now.Format(time.RFC3339),
	}
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal episode content: %w", err)
	}

	who := patientName
	if who == "" {
		who = phone
	}

	err = c.AddEpisode(ctx, Episode{
		Name:              fmt.Sprintf("Conversation_%s_%s", phone, now.Format(time.RFC3339)),
		Body:              string(body),
		Source:            SourceJSON,
		SourceDescription: fmt.Sprintf("WhatsApp conversation with %s", who),
		ReferenceTime:     now,
	})
	if err != nil {
		return err
	}

	c.logger.Info("conversation episode added", "phone", phone, "message_id", messageID)
	return nil
}

// AddPatientEvent records a significant patient event (appointment
// scheduled, lead qualified, and so on) as a JSON episode.
func (c *Client) AddPatientEvent(ctx context.Context, phone, patientName, eventType string, data map[string]any) error {
	now := time.Now().UTC()
	content := map[string]any{
		"phone":        phone,
		"patient_name": patientName,
		"event_type":   eventType,
	}
	for k, v := range data {
		content[k] = v
	}
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal event content: %w", err)
	}

	err = c.AddEpisode(ctx, Episode{
		Name:              fmt.Sprintf("Event_%s_%s_%s", eventType, phone, now.Format(time.RFC3339)),
		Body:              string(body),
		Source:            SourceJSON,
		SourceDescription: fmt.Sprintf("Patient event: %s", eventType),
		ReferenceTime:     now,
	})
	if err != nil {
		return err
	}

	c.logger.Info("patient event added", "phone", phone, "event_type", eventType)
	return nil
}

// Search returns facts from the graph matching the query, newest
// relevance first, at most limit results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 5
	}
	var out struct {
		Facts []Fact `json:"facts"`
	}
	err := c.postJSON(ctx, "/search", map[string]any{
		"query":     query,
		"max_facts": limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("graph search", "query", query, "results", len(out.Facts))
	return out.Facts, nil
}

// PatientContext returns accumulated facts about one patient, keyed by
// phone number.
func (c *Client) PatientContext(ctx context.Context, phone string, limit int) ([]Fact, error) {
	return c.Search(ctx, phone, limit)
}

// Healthy reports whether the service answers its health endpoint.
// Used by /health and the stats snapshot; failures are not retried.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
