package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berenice-ai/berenice/internal/archive"
	"github.com/berenice-ai/berenice/internal/convo"
	"github.com/berenice-ai/berenice/internal/prompts"
	"github.com/berenice-ai/berenice/internal/zapi"
)

type fakeMessenger struct {
	mu       sync.Mutex
	ops      []string
	sendErrs []error // consumed in order, nil entries succeed
	sendSeq  int
}

func (m *fakeMessenger) SendText(_ context.Context, phone, message string) (*zapi.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "send:"+message)
	var err error
	if m.sendSeq < len(m.sendErrs) {
		err = m.sendErrs[m.sendSeq]
	}
	m.sendSeq++
	if err != nil {
		return nil, err
	}
	return &zapi.SendResult{MessageID: fmt.Sprintf("out-%d", m.sendSeq)}, nil
}

func (m *fakeMessenger) TypingOn(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "typing_on")
	return nil
}

func (m *fakeMessenger) TypingOff(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "typing_off")
	return nil
}

func (m *fakeMessenger) MarkRead(_ context.Context, phone, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "read:"+messageID)
	return nil
}

func (m *fakeMessenger) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *fakeMessenger) sentTexts() []string {
	var texts []string
	for _, op := range m.snapshot() {
		if t, ok := strings.CutPrefix(op, "send:"); ok {
			texts = append(texts, t)
		}
	}
	return texts
}

type fakeEpisodes struct {
	mu      sync.Mutex
	entries []string
	err     error
}

func (e *fakeEpisodes) AddConversationEpisode(_ context.Context, phone, patientName, messageText, messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, phone+"|"+messageText)
	return e.err
}

func (e *fakeEpisodes) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

type fakeGenerator struct {
	reply func(phone, name, text string) (string, error)
}

func (g *fakeGenerator) Reply(_ context.Context, phone, patientName, messageText string) (string, error) {
	if g.reply == nil {
		return "ok", nil
	}
	return g.reply(phone, patientName, messageText)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) IncomingMessage(phone, senderName, messageText, messageID string) {
	n.add("in:" + phone)
}

func (n *fakeNotifier) OutgoingMessage(phone, patientName, messageText, messageID string) {
	n.add("out:" + phone + ":" + messageText)
}

func (n *fakeNotifier) AgentStatus(phone, status string) {
	n.add("status:" + status)
}

func (n *fakeNotifier) ConversationCleared(phone string) {
	n.add("cleared:" + phone)
}

func (n *fakeNotifier) Stats(data map[string]any) {
	n.add(fmt.Sprintf("stats:%v:%v", data["active_conversations"], data["total_messages"]))
}

func (n *fakeNotifier) add(ev string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []archive.Entry
}

func (r *fakeRecorder) Record(_ context.Context, e archive.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRecorder) snapshot() []archive.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]archive.Entry(nil), r.entries...)
}

type fixture struct {
	proc      *Processor
	messenger *fakeMessenger
	episodes  *fakeEpisodes
	generator *fakeGenerator
	notifier  *fakeNotifier
	recorder  *fakeRecorder
	table     *convo.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		messenger: &fakeMessenger{},
		episodes:  &fakeEpisodes{},
		generator: &fakeGenerator{},
		notifier:  &fakeNotifier{},
		recorder:  &fakeRecorder{},
		table:     convo.NewTable(),
	}
	f.proc = New(Config{
		Messenger:  f.messenger,
		Episodes:   f.episodes,
		Generator:  f.generator,
		Recorder:   f.recorder,
		Notifier:   f.notifier,
		Table:      f.table,
		ClinicName: "Clínica Sorriso",
		Logger:     discardLogger(),
	})
	f.proc.pacing = 0
	f.proc.now = func() time.Time {
		return time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	}
	return f
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textMessage(phone, id, body string) *zapi.WebhookMessage {
	return &zapi.WebhookMessage{
		MessageID:  id,
		Phone:      phone,
		SenderName: "Maria",
		Text:       &zapi.TextPayload{Message: body},
	}
}

func TestRejectedMessagesHaveNoSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		msg    *zapi.WebhookMessage
		reason string
	}{
		{
			name:   "from self",
			msg:    &zapi.WebhookMessage{MessageID: "m1", Phone: "p", FromMe: true, Text: &zapi.TextPayload{Message: "hi"}},
			reason: ReasonFromSelf,
		},
		{
			name:   "group chat",
			msg:    &zapi.WebhookMessage{MessageID: "m2", Phone: "p", IsGroup: true, Text: &zapi.TextPayload{Message: "hi"}},
			reason: ReasonGroup,
		},
		{
			name:   "no text",
			msg:    &zapi.WebhookMessage{MessageID: "m3", Phone: "p"},
			reason: ReasonNoText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			ack := f.proc.HandleInbound(tt.msg)
			f.proc.Drain()

			if ack.Status != StatusIgnored {
				t.Errorf("status = %q, want %q", ack.Status, StatusIgnored)
			}
			if ack.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", ack.Reason, tt.reason)
			}
			if ack.MessageID != tt.msg.MessageID {
				t.Errorf("messageId = %q, want %q", ack.MessageID, tt.msg.MessageID)
			}
			if ops := f.messenger.snapshot(); len(ops) != 0 {
				t.Errorf("messenger touched: %v", ops)
			}
			if f.episodes.count() != 0 {
				t.Error("episode recorded for rejected message")
			}
			if f.table.Len() != 0 {
				t.Error("conversation created for rejected message")
			}
		})
	}
}

func TestAcceptedPath(t *testing.T) {
	f := newFixture(t)
	f.generator.reply = func(phone, name, text string) (string, error) {
		return "Claro, posso ajudar!", nil
	}

	ack := f.proc.HandleInbound(textMessage("5511999999999", "msg-1", "Quero clarear os dentes"))
	if ack.Status != StatusReceived {
		t.Fatalf("status = %q, want %q", ack.Status, StatusReceived)
	}
	if ack.MessageID != "msg-1" {
		t.Fatalf("messageId = %q", ack.MessageID)
	}
	f.proc.Drain()

	welcome := prompts.WelcomeMessage(10, "Clínica Sorriso")
	wantOps := []string{
		"typing_on",
		"send:" + welcome,
		"typing_off",
		"send:Claro, posso ajudar!",
		"read:msg-1",
	}
	ops := f.messenger.snapshot()
	if len(ops) != len(wantOps) {
		t.Fatalf("ops = %v, want %v", ops, wantOps)
	}
	for i, op := range wantOps {
		if ops[i] != op {
			t.Errorf("ops[%d] = %q, want %q", i, ops[i], op)
		}
	}

	if f.episodes.count() != 1 {
		t.Errorf("episodes = %d, want 1", f.episodes.count())
	}

	state, ok := f.table.Get("5511999999999")
	if !ok {
		t.Fatal("conversation missing")
	}
	if state.Messages != 1 {
		t.Errorf("messages = %d, want 1", state.Messages)
	}
	if state.PatientName != "Maria" {
		t.Errorf("patient name = %q", state.PatientName)
	}

	events := f.notifier.snapshot()
	var hasIn, hasOut bool
	for _, ev := range events {
		if ev == "in:5511999999999" {
			hasIn = true
		}
		if ev == "out:5511999999999:Claro, posso ajudar!" {
			hasOut = true
		}
	}
	if !hasIn || !hasOut {
		t.Errorf("missing dashboard events: %v", events)
	}

	recorded := f.recorder.snapshot()
	var in, out int
	for _, e := range recorded {
		switch e.Direction {
		case archive.DirectionIn:
			in++
		case archive.DirectionOut:
			out++
		}
	}
	if in != 1 {
		t.Errorf("archived inbound = %d, want 1", in)
	}
	if out != 2 { // welcome + reply
		t.Errorf("archived outbound = %d, want 2", out)
	}
}

func TestWelcomeSentExactlyOnce(t *testing.T) {
	f := newFixture(t)

	const n = 32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.proc.HandleInbound(textMessage("5511999999999", fmt.Sprintf("msg-%d", i), "oi"))
		}()
	}
	wg.Wait()
	f.proc.Drain()

	welcome := prompts.WelcomeMessage(10, "Clínica Sorriso")
	var welcomes int
	for _, text := range f.messenger.sentTexts() {
		if text == welcome {
			welcomes++
		}
	}
	if welcomes != 1 {
		t.Errorf("welcome sent %d times, want exactly 1", welcomes)
	}

	state, _ := f.table.Get("5511999999999")
	if state.Messages != n {
		t.Errorf("messages = %d, want %d", state.Messages, n)
	}
}

func TestPerPhoneOrdering(t *testing.T) {
	f := newFixture(t)
	f.generator.reply = func(phone, name, text string) (string, error) {
		return "re: " + text, nil
	}

	for i := 1; i <= 3; i++ {
		f.proc.HandleInbound(textMessage("5511999999999", fmt.Sprintf("msg-%d", i), fmt.Sprintf("pergunta %d", i)))
	}
	f.proc.Drain()

	var replies []string
	for _, text := range f.messenger.sentTexts() {
		if strings.HasPrefix(text, "re: ") {
			replies = append(replies, text)
		}
	}
	want := []string{"re: pergunta 1", "re: pergunta 2", "re: pergunta 3"}
	if len(replies) != len(want) {
		t.Fatalf("replies = %v", replies)
	}
	for i := range want {
		if replies[i] != want[i] {
			t.Errorf("replies[%d] = %q, want %q", i, replies[i], want[i])
		}
	}
}

func TestGeneratorFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	f.generator.reply = func(phone, name, text string) (string, error) {
		return "", errors.New("model unavailable")
	}

	f.proc.HandleInbound(textMessage("p", "m1", "oi"))
	f.proc.Drain()

	var gotApology bool
	for _, text := range f.messenger.sentTexts() {
		if text == prompts.Apology {
			gotApology = true
		}
	}
	if !gotApology {
		t.Errorf("apology not sent; texts: %v", f.messenger.sentTexts())
	}
}

func TestSendFailureRetriesWithNotice(t *testing.T) {
	f := newFixture(t)
	f.generator.reply = func(phone, name, text string) (string, error) {
		return "resposta", nil
	}
	// Second contact so no welcome send shifts the error sequence.
	f.table.UpsertOnMessage("p", "Maria")
	f.messenger.sendErrs = []error{errors.New("gateway timeout")}

	f.proc.HandleInbound(textMessage("p", "m1", "oi"))
	f.proc.Drain()

	texts := f.messenger.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("sends = %v, want reply then notice", texts)
	}
	if texts[0] != "resposta" {
		t.Errorf("first send = %q", texts[0])
	}
	if texts[1] != prompts.DeliveryFailureNotice {
		t.Errorf("second send = %q, want failure notice", texts[1])
	}

	// Read receipt still attempted after the failed delivery.
	ops := f.messenger.snapshot()
	if ops[len(ops)-1] != "read:m1" {
		t.Errorf("last op = %q, want read receipt", ops[len(ops)-1])
	}
}

func TestPanicInProcessingIsContained(t *testing.T) {
	f := newFixture(t)
	f.generator.reply = func(phone, name, text string) (string, error) {
		if text == "boom" {
			panic("generator bug")
		}
		return "ok", nil
	}

	f.proc.HandleInbound(textMessage("p", "m1", "boom"))
	f.proc.HandleInbound(textMessage("p", "m2", "oi"))
	f.proc.Drain()

	// The queue survived the panic and processed the second message.
	var gotOK bool
	for _, text := range f.messenger.sentTexts() {
		if text == "ok" {
			gotOK = true
		}
	}
	if !gotOK {
		t.Error("message after panic was not processed")
	}
}

func TestClearConversation(t *testing.T) {
	f := newFixture(t)
	f.table.UpsertOnMessage("p", "Maria")

	if !f.proc.ClearConversation("p") {
		t.Fatal("clear returned false for existing conversation")
	}
	if f.proc.ClearConversation("p") {
		t.Fatal("clear returned true for absent conversation")
	}

	events := f.notifier.snapshot()
	var cleared int
	for _, ev := range events {
		if ev == "cleared:p" {
			cleared++
		}
	}
	if cleared != 1 {
		t.Errorf("cleared events = %d, want 1", cleared)
	}
}

// deadlineCheckGenerator reports whether the context it was called
// with carries a deadline.
type deadlineCheckGenerator struct {
	hasDeadline chan bool
}

func (g *deadlineCheckGenerator) Reply(ctx context.Context, phone, patientName, messageText string) (string, error) {
	_, has := ctx.Deadline()
	g.hasDeadline <- has
	return "ok", nil
}

func TestGenerationContextHasNoDeadline(t *testing.T) {
	f := newFixture(t)
	gen := &deadlineCheckGenerator{hasDeadline: make(chan bool, 1)}
	f.proc.generator = gen

	f.proc.HandleInbound(textMessage("p", "m1", "oi"))
	f.proc.Drain()

	if <-gen.hasDeadline {
		t.Error("generator was called with a deadline-bearing context")
	}
	var replied bool
	for _, text := range f.messenger.sentTexts() {
		if text == "ok" {
			replied = true
		}
	}
	if !replied {
		t.Error("reply was not delivered")
	}
}

func TestStatsPushedAfterProcessing(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleInbound(textMessage("a", "m1", "oi"))
	f.proc.Drain()
	f.proc.HandleInbound(textMessage("b", "m2", "oi"))
	f.proc.Drain()
	f.proc.HandleInbound(textMessage("a", "m3", "tudo bem?"))
	f.proc.Drain()

	events := f.notifier.snapshot()
	var last string
	for _, ev := range events {
		if strings.HasPrefix(ev, "stats:") {
			last = ev
		}
	}
	if last != "stats:2:3" {
		t.Errorf("last stats event = %q, want %q", last, "stats:2:3")
	}
}

func TestSendManual(t *testing.T) {
	f := newFixture(t)
	f.table.UpsertOnMessage("p", "Maria")

	if err := f.proc.SendManual(context.Background(), "p", "Olá da recepção"); err != nil {
		t.Fatalf("send manual: %v", err)
	}

	texts := f.messenger.sentTexts()
	if len(texts) != 1 || texts[0] != "Olá da recepção" {
		t.Errorf("sends = %v", texts)
	}

	var hasOut bool
	for _, ev := range f.notifier.snapshot() {
		if ev == "out:p:Olá da recepção" {
			hasOut = true
		}
	}
	if !hasOut {
		t.Error("dashboard not notified of manual send")
	}
}

func TestSendManualError(t *testing.T) {
	f := newFixture(t)
	f.messenger.sendErrs = []error{errors.New("unreachable")}

	if err := f.proc.SendManual(context.Background(), "p", "oi"); err == nil {
		t.Fatal("expected error")
	}
	if len(f.notifier.snapshot()) != 0 {
		t.Error("dashboard notified despite failed send")
	}
}
