// Package pipeline turns accepted webhook messages into agent replies.
// Webhook handlers get an immediate acknowledgment; the real work runs
// on a per-patient serial queue so one patient's messages are handled
// strictly in arrival order while different patients proceed in
// parallel.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/berenice-ai/berenice/internal/archive"
	"github.com/berenice-ai/berenice/internal/convo"
	"github.com/berenice-ai/berenice/internal/prompts"
	"github.com/berenice-ai/berenice/internal/zapi"
)

// Ack statuses returned to the WhatsApp provider.
const (
	StatusReceived = "received"
	StatusIgnored  = "ignored"
)

// Rejection reasons, wire-compatible with the dashboard.
const (
	ReasonFromSelf = "message_from_self"
	ReasonGroup    = "group_message"
	ReasonNoText   = "no_text_content"
)

// defaultPacing simulates a human pause before replying.
const defaultPacing = 2 * time.Second

// Ack is the synchronous webhook acknowledgment, sent before any
// processing side effect happens.
type Ack struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Messenger sends WhatsApp traffic.
type Messenger interface {
	SendText(ctx context.Context, phone, message string) (*zapi.SendResult, error)
	TypingOn(ctx context.Context, phone string) error
	TypingOff(ctx context.Context, phone string) error
	MarkRead(ctx context.Context, phone, messageID string) error
}

// EpisodeStore persists conversation turns into the knowledge graph.
type EpisodeStore interface {
	AddConversationEpisode(ctx context.Context, phone, patientName, messageText, messageID string) error
}

// ReplyGenerator produces the assistant's answer to one message.
type ReplyGenerator interface {
	Reply(ctx context.Context, phone, patientName, messageText string) (string, error)
}

// Recorder archives message traffic locally. Optional.
type Recorder interface {
	Record(ctx context.Context, e archive.Entry) error
}

// Notifier pushes live events to dashboard observers.
type Notifier interface {
	IncomingMessage(phone, senderName, messageText, messageID string)
	OutgoingMessage(phone, patientName, messageText, messageID string)
	AgentStatus(phone, status string)
	ConversationCleared(phone string)
	Stats(data map[string]any)
}

// Config wires a Processor.
type Config struct {
	Messenger  Messenger
	Episodes   EpisodeStore
	Generator  ReplyGenerator
	Recorder   Recorder // may be nil
	Notifier   Notifier
	Table      *convo.Table
	ClinicName string
	Logger     *slog.Logger
}

// Processor owns the inbound message path.
type Processor struct {
	messenger  Messenger
	episodes   EpisodeStore
	generator  ReplyGenerator
	recorder   Recorder
	notifier   Notifier
	table      *convo.Table
	clinicName string
	logger     *slog.Logger

	queue  *serialQueue
	pacing time.Duration
	now    func() time.Time
}

// New creates a Processor from cfg.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		messenger:  cfg.Messenger,
		episodes:   cfg.Episodes,
		generator:  cfg.Generator,
		recorder:   cfg.Recorder,
		notifier:   cfg.Notifier,
		table:      cfg.Table,
		clinicName: cfg.ClinicName,
		logger:     logger,
		queue:      newSerialQueue(),
		pacing:     defaultPacing,
		now:        time.Now,
	}
}

// HandleInbound filters one webhook message and, when accepted, queues
// it for processing. The returned Ack is what the webhook handler
// writes back; it never waits on the agent.
func (p *Processor) HandleInbound(msg *zapi.WebhookMessage) Ack {
	if msg.FromMe {
		p.logger.Debug("ignoring own message", "message_id", msg.MessageID)
		return Ack{Status: StatusIgnored, MessageID: msg.MessageID, Reason: ReasonFromSelf}
	}
	if msg.IsGroup {
		p.logger.Debug("ignoring group message", "message_id", msg.MessageID, "chat", msg.ChatName)
		return Ack{Status: StatusIgnored, MessageID: msg.MessageID, Reason: ReasonGroup}
	}
	text, ok := msg.MessageText()
	if !ok {
		p.logger.Debug("ignoring message without text", "message_id", msg.MessageID, "phone", msg.Phone)
		return Ack{Status: StatusIgnored, MessageID: msg.MessageID, Reason: ReasonNoText}
	}

	p.queue.enqueue(msg.Phone, func() {
		p.process(msg, text)
	})
	return Ack{Status: StatusReceived, MessageID: msg.MessageID}
}

// process runs the full reply path for one accepted message. It is
// called from the serial queue, so per-phone ordering is already
// guaranteed. A panic here must not take the queue down.
func (p *Processor) process(msg *zapi.WebhookMessage, text string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message",
				"phone", msg.Phone, "message_id", msg.MessageID, "panic", r)
		}
	}()

	// No deadline here: the gateway clients bound their own requests,
	// and an expensive generation must still end in a reply.
	ctx := context.Background()

	name := msg.DisplayName()
	p.logger.Info("processing message", "phone", msg.Phone, "from", name, "message_id", msg.MessageID)

	if err := p.messenger.TypingOn(ctx, msg.Phone); err != nil {
		p.logger.Warn("typing indicator failed", "phone", msg.Phone, "error", err)
	}

	time.Sleep(p.pacing)

	if err := p.episodes.AddConversationEpisode(ctx, msg.Phone, name, text, msg.MessageID); err != nil {
		p.logger.Warn("episode append failed", "phone", msg.Phone, "error", err)
	}
	p.record(ctx, archive.Entry{
		Phone:     msg.Phone,
		Name:      name,
		Direction: archive.DirectionIn,
		Body:      text,
		MessageID: msg.MessageID,
	})

	state, created := p.table.UpsertOnMessage(msg.Phone, name)
	if created {
		p.sendWelcome(ctx, msg.Phone, state.PatientName)
	}

	p.notifier.IncomingMessage(msg.Phone, name, text, msg.MessageID)
	p.notifier.AgentStatus(msg.Phone, "typing")

	reply, err := p.generator.Reply(ctx, msg.Phone, state.PatientName, text)
	if err != nil {
		p.logger.Error("reply generation failed", "phone", msg.Phone, "error", err)
		reply = prompts.Apology
	}

	if err := p.messenger.TypingOff(ctx, msg.Phone); err != nil {
		p.logger.Warn("typing indicator failed", "phone", msg.Phone, "error", err)
	}

	sentID := p.deliver(ctx, msg.Phone, reply)

	if err := p.messenger.MarkRead(ctx, msg.Phone, msg.MessageID); err != nil {
		p.logger.Warn("read receipt failed", "phone", msg.Phone, "error", err)
	}

	p.notifier.AgentStatus(msg.Phone, "idle")
	p.notifier.OutgoingMessage(msg.Phone, state.PatientName, reply, sentID)
	p.record(ctx, archive.Entry{
		Phone:     msg.Phone,
		Name:      state.PatientName,
		Direction: archive.DirectionOut,
		Body:      reply,
		MessageID: sentID,
	})
	p.pushStats()
}

// pushStats refreshes the dashboard counters after conversation state
// changes.
func (p *Processor) pushStats() {
	p.notifier.Stats(map[string]any{
		"active_conversations": p.table.Len(),
		"total_messages":       p.table.TotalMessages(),
	})
}

// sendWelcome greets a first-time contact before the agent answers
// their actual message.
func (p *Processor) sendWelcome(ctx context.Context, phone, patientName string) {
	welcome := prompts.WelcomeMessage(p.now().Hour(), p.clinicName)
	res, err := p.messenger.SendText(ctx, phone, welcome)
	if err != nil {
		p.logger.Warn("welcome send failed", "phone", phone, "error", err)
		return
	}
	var id string
	if res != nil {
		id = res.MessageID
	}
	p.logger.Info("welcome sent", "phone", phone)
	p.notifier.OutgoingMessage(phone, patientName, welcome, id)
	p.record(ctx, archive.Entry{
		Phone:     phone,
		Name:      patientName,
		Direction: archive.DirectionOut,
		Body:      welcome,
		MessageID: id,
	})
}

// deliver sends the reply, retrying once with a generic failure notice
// when the first send fails. Delivery problems never propagate.
func (p *Processor) deliver(ctx context.Context, phone, reply string) string {
	res, err := p.messenger.SendText(ctx, phone, reply)
	if err == nil {
		if res != nil {
			return res.MessageID
		}
		return ""
	}
	p.logger.Error("reply send failed", "phone", phone, "error", err)

	res, err = p.messenger.SendText(ctx, phone, prompts.DeliveryFailureNotice)
	if err != nil {
		p.logger.Error("failure notice send failed", "phone", phone, "error", err)
		return ""
	}
	if res != nil {
		return res.MessageID
	}
	return ""
}

func (p *Processor) record(ctx context.Context, e archive.Entry) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, e); err != nil {
		p.logger.Warn("archive write failed", "phone", e.Phone, "error", err)
	}
}

// ClearConversation drops a patient's in-memory conversation state.
// Reports whether a conversation existed.
func (p *Processor) ClearConversation(phone string) bool {
	if !p.table.Delete(phone) {
		return false
	}
	p.logger.Info("conversation cleared", "phone", phone)
	p.notifier.ConversationCleared(phone)
	p.pushStats()
	return true
}

// SendManual sends an operator-written message outside the agent loop.
func (p *Processor) SendManual(ctx context.Context, phone, text string) error {
	res, err := p.messenger.SendText(ctx, phone, text)
	if err != nil {
		return err
	}
	var id string
	if res != nil {
		id = res.MessageID
	}
	var name string
	if state, ok := p.table.Get(phone); ok {
		name = state.PatientName
	}
	p.notifier.OutgoingMessage(phone, name, text, id)
	p.record(ctx, archive.Entry{
		Phone:     phone,
		Name:      name,
		Direction: archive.DirectionOut,
		Body:      text,
		MessageID: id,
	})
	return nil
}

// Drain blocks until queued work finishes. Used during shutdown.
func (p *Processor) Drain() {
	p.queue.wait()
}
