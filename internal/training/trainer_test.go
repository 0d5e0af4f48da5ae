package training_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drillbot/internal/eventbus"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	logx "drillbot/pkg/logx"
)

type sent struct {
	to   int64
	text string
}

type fakeGateway struct {
	mu    sync.Mutex
	sent  []sent
	fail  map[int64]bool
	block chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (g *fakeGateway) Send(ctx context.Context, to int64, text string) error {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxInFlight.Load()
		if n <= m || g.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[to] {
		return errors.New("bot was blocked by the user")
	}
	g.sent = append(g.sent, sent{to: to, text: text})
	return nil
}

func (g *fakeGateway) sentTo(id int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, s := range g.sent {
		if s.to == id {
			out = append(out, s.text)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	ctx     context.Context
	store   *storage.Store
	gw      *fakeGateway
	clock   *clock
	bus     eventbus.Bus
	trainer *training.Trainer
}

// at returns 2025-03-03 hh:mm:ss UTC.
func at(hh, mm, ss int) time.Time {
	return time.Date(2025, 3, 3, hh, mm, ss, 0, time.UTC)
}

func newHarness(t *testing.T, texts ...string) *harness {
	t.Helper()
	st, err := storage.OpenInMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		ctx:   context.Background(),
		store: st,
		gw:    &fakeGateway{fail: map[int64]bool{}},
		clock: &clock{now: at(10, 0, 0)},
		bus:   eventbus.New(),
	}
	h.trainer = training.NewTrainer(st, h.gw, training.Options{
		Window:   training.Window{Start: 10, End: 20, Loc: time.UTC},
		Delivery: training.DeliveryConfig{Workers: 4},
		Bus:      h.bus,
		Now:      h.clock.Now,
	}, logx.Nop())

	items := make([]training.ScenarioItem, 0, len(texts))
	for i, txt := range texts {
		items = append(items, training.ScenarioItem{Index: i + 1, Text: txt, Difficulty: training.DifficultyEasy})
	}
	if err := h.trainer.LoadScenario(h.ctx, items); err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	return h
}

func (h *harness) start(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := h.trainer.OnUserStart(h.ctx, id, "", ""); err != nil {
			t.Fatalf("OnUserStart(%d): %v", id, err)
		}
	}
}

func (h *harness) tick(t *testing.T, now time.Time) training.TickResult {
	t.Helper()
	h.clock.Set(now)
	res, err := h.trainer.OnTimerTick(h.ctx)
	if err != nil {
		t.Fatalf("tick at %s: %v", now.Format("15:04"), err)
	}
	return res
}

func (h *harness) answer(t *testing.T, id int64, text string, now time.Time) training.AnswerResult {
	t.Helper()
	h.clock.Set(now)
	res, err := h.trainer.OnIncomingText(h.ctx, id, text)
	if err != nil {
		t.Fatalf("answer(%d): %v", id, err)
	}
	return res
}

func (h *harness) cursor(t *testing.T) int {
	t.Helper()
	c, err := h.trainer.Engine().Cursor(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

const (
	alice int64 = 101
	bob   int64 = 202
)

func TestThreeItemWalkthrough(t *testing.T) {
	h := newHarness(t, "Q1", "Q2", "Q3")
	h.start(t, alice, bob)

	res := h.tick(t, at(10, 0, 0))
	if res.Outcome != training.TickDelivered || res.Index != 1 || res.Delivered != 2 || res.Failed != 0 {
		t.Fatalf("tick 1 = %+v", res)
	}

	ans := h.answer(t, alice, "Здравствуйте!", at(10, 0, 30))
	if ans.Outcome != training.AnswerRecorded || ans.ResponseSeconds != 30 || ans.Entry.ScenarioIndex != 1 {
		t.Fatalf("alice answer = %+v", ans)
	}

	res = h.tick(t, at(10, 40, 0))
	if res.Outcome != training.TickDelivered || res.Index != 2 {
		t.Fatalf("tick 2 = %+v", res)
	}

	res = h.tick(t, at(11, 20, 0))
	if res.Outcome != training.TickDelivered || res.Index != 3 || !res.Exhausted() {
		t.Fatalf("tick 3 = %+v", res)
	}

	for i := 0; i < 2; i++ {
		res = h.tick(t, at(12, 0, i))
		if res.Outcome != training.TickScenarioExhausted {
			t.Fatalf("tick after end #%d = %v, want exhausted", i, res.Outcome)
		}
	}
	if got := h.gw.sentTo(bob); len(got) != 3 || got[0] != "Q1" || got[2] != "Q3" {
		t.Fatalf("bob received %v", got)
	}
	if c := h.cursor(t); c != 4 {
		t.Fatalf("cursor = %d, want 4", c)
	}
}

// A reply goes to the newest unanswered delivery. A participant who answers
// question 1 only after question 2 arrived has that reply recorded against
// question 2, and question 1 stays unanswered for good.
func TestLateReplyAttachesToNewestDelivery(t *testing.T) {
	h := newHarness(t, "Q1", "Q2")
	h.start(t, bob)

	h.tick(t, at(10, 0, 0))
	h.tick(t, at(10, 40, 0))

	ans := h.answer(t, bob, "ответ на первый вопрос", at(10, 41, 0))
	if ans.Outcome != training.AnswerRecorded {
		t.Fatalf("outcome = %v", ans.Outcome)
	}
	if ans.Entry.ScenarioIndex != 2 || ans.ResponseSeconds != 60 {
		t.Fatalf("reply attached to index %d (%ds), want index 2 (60s)", ans.Entry.ScenarioIndex, ans.ResponseSeconds)
	}

	ans = h.answer(t, bob, "второй ответ", at(10, 42, 0))
	if ans.Outcome != training.AnswerRecorded || ans.Entry.ScenarioIndex != 1 {
		t.Fatalf("second reply = %+v, want attached to index 1", ans)
	}
}

func TestWorkWindowBoundaries(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want training.TickOutcome
	}{
		{"before start", at(9, 59, 59), training.TickOutsideWindow},
		{"at start", at(10, 0, 0), training.TickDelivered},
		{"last minute", at(19, 59, 0), training.TickDelivered},
		{"at end", at(20, 0, 0), training.TickOutsideWindow},
		{"midnight", at(0, 0, 0), training.TickOutsideWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "Q1")
			h.start(t, alice)
			if got := h.tick(t, tt.now).Outcome; got != tt.want {
				t.Fatalf("outcome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowUsesConfiguredZone(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	w := training.Window{Start: 10, End: 20, Loc: msk}
	// 07:30 UTC is 10:30 in Moscow.
	if !w.Contains(at(7, 30, 0)) {
		t.Fatal("07:30 UTC should be inside a 10-20 Moscow window")
	}
	if w.Contains(at(17, 0, 0)) {
		t.Fatal("17:00 UTC is 20:00 in Moscow, outside the window")
	}
}

func TestNoRecipientsKeepsCursor(t *testing.T) {
	h := newHarness(t, "Q1", "Q2")
	res := h.tick(t, at(10, 0, 0))
	if res.Outcome != training.TickNoRecipients {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if c := h.cursor(t); c != 1 {
		t.Fatalf("cursor = %d, want 1", c)
	}
}

func TestPartialDeliveryFailure(t *testing.T) {
	h := newHarness(t, "Q1", "Q2")
	h.start(t, alice, bob)
	h.gw.fail[bob] = true

	res := h.tick(t, at(10, 0, 0))
	if res.Outcome != training.TickDelivered || res.Delivered != 1 || res.Failed != 1 {
		t.Fatalf("tick = %+v", res)
	}
	if c := h.cursor(t); c != 2 {
		t.Fatalf("cursor = %d, want 2", c)
	}

	ans := h.answer(t, bob, "я тут", at(10, 1, 0))
	if ans.Outcome != training.AnswerNoPendingQuestion {
		t.Fatalf("bob answer = %v, want no pending question", ans.Outcome)
	}

	// Bob never receives item 1.
	delete(h.gw.fail, bob)
	h.tick(t, at(10, 40, 0))
	if got := h.gw.sentTo(bob); len(got) != 1 || got[0] != "Q2" {
		t.Fatalf("bob received %v, want only Q2", got)
	}
}

func TestAllDeliveriesFailLeavesCursor(t *testing.T) {
	h := newHarness(t, "Q1")
	h.start(t, alice)
	h.gw.fail[alice] = true
	res := h.tick(t, at(10, 0, 0))
	if res.Delivered != 0 || res.Failed != 1 {
		t.Fatalf("tick = %+v", res)
	}
	if c := h.cursor(t); c != 1 {
		t.Fatalf("cursor = %d, want 1", c)
	}
}

func TestAnswerOutcomes(t *testing.T) {
	h := newHarness(t, "Q1")

	if got := h.answer(t, alice, "hi", at(10, 0, 0)).Outcome; got != training.AnswerInactiveParticipant {
		t.Fatalf("unknown participant: %v", got)
	}

	h.start(t, alice)
	if got := h.answer(t, alice, "hi", at(10, 0, 0)).Outcome; got != training.AnswerNoPendingQuestion {
		t.Fatalf("before any delivery: %v", got)
	}

	h.tick(t, at(10, 0, 0))
	first := h.answer(t, alice, "first", at(10, 2, 5))
	if first.Outcome != training.AnswerRecorded || first.ResponseSeconds != 125 {
		t.Fatalf("first answer = %+v", first)
	}
	if got := h.answer(t, alice, "second", at(10, 3, 0)).Outcome; got != training.AnswerNoPendingQuestion {
		t.Fatalf("second answer: %v", got)
	}

	entries, err := h.trainer.Deliveries(h.ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Deliveries = %d, %v", len(entries), err)
	}
	if *entries[0].AnswerText != "first" || *entries[0].ResponseTimeSeconds != 125 {
		t.Fatalf("entry was overwritten: %+v", entries[0])
	}

	if _, err := h.trainer.OnUserStop(h.ctx, alice); err != nil {
		t.Fatal(err)
	}
	if got := h.answer(t, alice, "hi", at(10, 5, 0)).Outcome; got != training.AnswerInactiveParticipant {
		t.Fatalf("stopped participant: %v", got)
	}
}

func TestResponseSeconds(t *testing.T) {
	base := at(10, 0, 0)
	tests := []struct {
		answered time.Time
		want     int64
	}{
		{base, 0},
		{base.Add(-3 * time.Second), 0},
		{base.Add(999 * time.Millisecond), 0},
		{base.Add(61*time.Second + 900*time.Millisecond), 61},
	}
	for _, tt := range tests {
		if got := training.ResponseSeconds(base, tt.answered); got != tt.want {
			t.Fatalf("ResponseSeconds(+%s) = %d, want %d", tt.answered.Sub(base), got, tt.want)
		}
	}
}

func TestMissingItemIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	if err := h.store.ReplaceScenario(h.ctx, []training.ScenarioItem{{Index: 1, Text: "Q1"}, {Index: 3, Text: "Q3"}}); err != nil {
		t.Fatal(err)
	}
	h.start(t, alice)
	events, unsub := h.bus.Subscribe(4, training.EventMisconfigured)
	defer unsub()

	h.tick(t, at(10, 0, 0))
	h.clock.Set(at(10, 40, 0))
	_, err := h.trainer.OnTimerTick(h.ctx)
	var cfgErr *training.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Index != 2 || cfgErr.Total != 2 {
		t.Fatalf("err = %v, want ConfigurationError for index 2", err)
	}
	select {
	case ev := <-events:
		if ev.Type != training.EventMisconfigured {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("misconfiguration event not published")
	}
}

func TestOverlappingTickIsBusy(t *testing.T) {
	h := newHarness(t, "Q1", "Q2")
	h.start(t, alice)
	h.gw.block = make(chan struct{})

	done := make(chan training.TickResult, 1)
	go func() {
		res, _ := h.trainer.Engine().RunTick(h.ctx, at(10, 0, 0), training.TriggerTimer)
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.gw.inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first tick never reached the gateway")
		}
		time.Sleep(time.Millisecond)
	}

	res, err := h.trainer.Engine().RunTick(h.ctx, at(10, 0, 1), training.TriggerManual)
	if err != nil || res.Outcome != training.TickBusy {
		t.Fatalf("overlapping tick = %+v, %v; want busy", res, err)
	}

	close(h.gw.block)
	if first := <-done; first.Outcome != training.TickDelivered || first.Index != 1 {
		t.Fatalf("first tick = %+v", first)
	}
	if c := h.cursor(t); c != 2 {
		t.Fatalf("cursor = %d, want 2 (busy tick must not deliver)", c)
	}
}

func TestDeliveryConcurrencyBound(t *testing.T) {
	h := newHarness(t, "Q1")
	h.trainer.Apply(training.Window{Start: 0, End: 24, Loc: time.UTC}, training.DeliveryConfig{Workers: 2})
	for id := int64(1); id <= 10; id++ {
		h.start(t, id)
	}
	h.gw.block = make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(h.gw.block)
	}()

	res := h.tick(t, at(3, 0, 0))
	if res.Delivered != 10 {
		t.Fatalf("delivered = %d, want 10", res.Delivered)
	}
	if m := h.gw.maxInFlight.Load(); m > 2 {
		t.Fatalf("max concurrent sends = %d, want <= 2", m)
	}
}

func TestSharedSentAt(t *testing.T) {
	h := newHarness(t, "Q1")
	h.start(t, alice, bob)
	h.tick(t, at(10, 0, 0))

	entries, err := h.trainer.Deliveries(h.ctx)
	if err != nil || len(entries) != 2 {
		t.Fatalf("Deliveries = %d, %v", len(entries), err)
	}
	if !entries[0].SentAt.Equal(entries[1].SentAt) || !entries[0].SentAt.Equal(at(10, 0, 0)) {
		t.Fatalf("sentAt differs: %v vs %v", entries[0].SentAt, entries[1].SentAt)
	}
	if entries[0].MessageText != "Q1" {
		t.Fatalf("MessageText = %q", entries[0].MessageText)
	}
}

func TestRendererDoesNotChangeLoggedText(t *testing.T) {
	st, err := storage.OpenInMemory(logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	gw := &fakeGateway{}
	tr := training.NewTrainer(st, gw, training.Options{
		Window: training.Window{Start: 0, End: 24, Loc: time.UTC},
		Render: func(it training.ScenarioItem, total int) string { return "#" + it.Text },
		Now:    func() time.Time { return at(12, 0, 0) },
	}, logx.Nop())
	ctx := context.Background()
	_ = tr.LoadScenario(ctx, []training.ScenarioItem{{Index: 1, Text: "Q1", Difficulty: training.DifficultyEasy}})
	_, _ = tr.OnUserStart(ctx, alice, "", "")
	if _, err := tr.OnTimerTick(ctx); err != nil {
		t.Fatal(err)
	}
	if got := gw.sentTo(alice); len(got) != 1 || got[0] != "#Q1" {
		t.Fatalf("sent %v", got)
	}
	entries, _ := tr.Deliveries(ctx)
	if entries[0].MessageText != "Q1" {
		t.Fatalf("logged %q, want raw item text", entries[0].MessageText)
	}
}

func TestStartStopOutcomes(t *testing.T) {
	h := newHarness(t, "Q1")

	out, err := h.trainer.OnUserStart(h.ctx, alice, "alice", "Alice A")
	if err != nil || out != training.Started {
		t.Fatalf("first start = %v, %v", out, err)
	}
	if out, _ = h.trainer.OnUserStart(h.ctx, alice, "alice", "Alice A"); out != training.AlreadyActive {
		t.Fatalf("second start = %v", out)
	}
	p, ok, _ := h.trainer.Registry().Get(h.ctx, alice)
	if !ok || !p.Active || p.TrainingStartedAt == nil || p.DisplayName != "Alice A" {
		t.Fatalf("participant = %+v", p)
	}

	if out, _ := h.trainer.OnUserStop(h.ctx, alice); out != training.Stopped {
		t.Fatalf("stop = %v", out)
	}
	if out, _ := h.trainer.OnUserStop(h.ctx, alice); out != training.NotActive {
		t.Fatalf("second stop = %v", out)
	}
	if out, _ := h.trainer.OnUserStop(h.ctx, bob); out != training.NotActive {
		t.Fatalf("unknown stop = %v", out)
	}
	p, _, _ = h.trainer.Registry().Get(h.ctx, alice)
	if p.Active || p.TrainingStartedAt != nil {
		t.Fatalf("after stop: %+v", p)
	}
}

func TestFirstContactRegistersInactive(t *testing.T) {
	h := newHarness(t, "Q1")
	p, err := h.trainer.OnFirstContact(h.ctx, alice, "alice", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Active || p.Username != "alice" {
		t.Fatalf("participant = %+v", p)
	}
	if res := h.tick(t, at(10, 0, 0)); res.Outcome != training.TickNoRecipients {
		t.Fatalf("outcome = %v, want no recipients", res.Outcome)
	}
}

func TestResetRewindsCursor(t *testing.T) {
	h := newHarness(t, "Q1", "Q2")
	h.start(t, alice)
	h.tick(t, at(10, 0, 0))
	if c := h.cursor(t); c != 2 {
		t.Fatalf("cursor = %d", c)
	}

	if err := h.trainer.Reset(h.ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c := h.cursor(t); c != 1 {
		t.Fatalf("cursor after reset = %d, want 1", c)
	}
	active, _ := h.trainer.Registry().ListActive(h.ctx)
	all, _ := h.trainer.Registry().ListAll(h.ctx)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("after reset active=%d all=%d", len(active), len(all))
	}
}

func TestStatusAndStats(t *testing.T) {
	h := newHarness(t, "Q1", "Q2", "Q3", "Q4")
	h.start(t, alice, bob)
	h.tick(t, at(10, 0, 0))
	h.answer(t, alice, "a", at(10, 0, 10))
	h.answer(t, bob, "b", at(10, 0, 30))
	h.tick(t, at(10, 40, 0))
	h.answer(t, alice, "a2", at(10, 42, 0))

	st, err := h.trainer.Status(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Cursor != 3 || st.Total != 4 || st.ActiveCount != 2 || st.Completed || st.ProgressPercent != 50 {
		t.Fatalf("status = %+v", st)
	}

	stats, err := h.trainer.Stats(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Sent != 4 || stats.Answered != 3 || stats.Unanswered() != 1 || stats.AnswerRate() != 75 {
		t.Fatalf("stats = %+v", stats)
	}
	// (10 + 30 + 120) / 3
	if stats.Latency.Avg != 53 || stats.Latency.Min != 10 || stats.Latency.Max != 120 {
		t.Fatalf("latency = %+v", stats.Latency)
	}

	ps, ok, err := h.trainer.ParticipantStats(h.ctx, alice)
	if err != nil || !ok {
		t.Fatalf("ParticipantStats = %v, %v", ok, err)
	}
	if ps.Received != 2 || ps.Answered != 2 || ps.Latency.Avg != 65 || ps.AnswerRate() != 100 {
		t.Fatalf("alice stats = %+v", ps)
	}
	if _, ok, _ := h.trainer.ParticipantStats(h.ctx, 999); ok {
		t.Fatal("unknown participant should not have stats")
	}
}

func TestTickPublishesEvent(t *testing.T) {
	h := newHarness(t, "Q1")
	h.start(t, alice)
	events, unsub := h.bus.Subscribe(4, training.EventTickFinished)
	defer unsub()

	h.tick(t, at(10, 0, 0))
	select {
	case ev := <-events:
		res, ok := ev.Data.(training.TickResult)
		if !ok || res.Index != 1 || !res.Exhausted() {
			t.Fatalf("event data = %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick event")
	}
}

func TestFormatLatency(t *testing.T) {
	tests := map[int64]string{
		0:    "0 сек",
		59:   "59 сек",
		60:   "1 мин 0 сек",
		125:  "2 мин 5 сек",
		3600: "1 ч 0 мин",
		3725: "1 ч 2 мин",
		-5:   "0 сек",
	}
	for in, want := range tests {
		if got := training.FormatLatency(in); got != want {
			t.Fatalf("FormatLatency(%d) = %q, want %q", in, got, want)
		}
	}
}
