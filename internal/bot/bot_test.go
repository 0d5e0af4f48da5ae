package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"drillbot/internal/eventbus"
	"drillbot/internal/export"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	logx "drillbot/pkg/logx"
)

type outMsg struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []outMsg
	edits    []outMsg
	docs     []kit.Document
	docBody  [][]byte
	answers  []string
	deleted  []kit.MessageRef
	sendErr  map[int64]error
	nextMsgI int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.nextMsgI++
	f.sent = append(f.sent, outMsg{chatID: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsgI}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, outMsg{chatID: ref.ChatID, text: text, opt: opt})
	return nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) error {
	body, err := io.ReadAll(doc.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	f.docBody = append(f.docBody, body)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) lastTo(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID {
			return f.sent[i].text
		}
	}
	return ""
}

func (f *fakeAdapter) countTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.chatID == chatID {
			n++
		}
	}
	return n
}

const ownerID = 900

type env struct {
	bot   *Bot
	ad    *fakeAdapter
	store *storage.Store
	now   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := storage.OpenInMemory(logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	if err := st.ReplaceScenario(ctx, []training.ScenarioItem{
		{Index: 1, Text: "Где мой заказ?", Category: "Доставка", Difficulty: training.DifficultyEasy},
		{Index: 2, Text: "Верните деньги", Category: "Возврат", Difficulty: training.DifficultyMedium},
	}); err != nil {
		t.Fatalf("replace scenario: %v", err)
	}

	e := &env{ad: &fakeAdapter{}, store: st, now: time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)}
	window := training.Window{Start: 10, End: 20, Loc: time.UTC}
	tr := training.NewTrainer(st, NewGateway(e.ad), training.Options{
		Window:   window,
		Delivery: training.DeliveryConfig{Workers: 2},
		Render:   RenderItem,
		Now:      func() time.Time { return e.now },
	}, logx.Nop())
	e.bot = New(Deps{
		Trainer:  tr,
		Exporter: export.New(st, time.UTC, "", logx.Nop()),
		Adapter:  e.ad,
		Audit:    st,
	}, Settings{Interval: 40 * time.Minute, Window: window, Owners: []int64{ownerID}}, logx.Nop())
	return e
}

func user(id int64) kit.User {
	return kit.User{ID: id, Username: "u" + string(rune('a'+id%26)), FirstName: "Иван", LastName: "Петров"}
}

// dispatch routes up and runs its handler on the calling goroutine.
func (e *env) dispatch(t *testing.T, up kit.Update) {
	t.Helper()
	job, _ := e.bot.Router().route(context.Background(), up)
	if job == nil {
		t.Fatalf("update %+v was not routed", up)
	}
	job()
}

func (e *env) command(t *testing.T, from int64, cmd, args string) {
	e.dispatch(t, kit.Update{Kind: kit.UpdateCommand, Message: &kit.Message{ChatID: from, From: user(from), Text: "/" + cmd, Command: cmd, Args: args}})
}

func (e *env) button(t *testing.T, from int64, key string) {
	e.dispatch(t, kit.Update{Kind: kit.UpdateButton, Message: &kit.Message{ChatID: from, From: user(from), Button: key}})
}

func (e *env) text(t *testing.T, from int64, text string) {
	e.dispatch(t, kit.Update{Kind: kit.UpdateText, Message: &kit.Message{ChatID: from, From: user(from), Text: text}})
}

func (e *env) callback(t *testing.T, from int64, data string) {
	e.dispatch(t, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", From: user(from), ChatID: from, MessageID: 7, Data: data}})
}

func TestStartButtonActivatesWithoutAnswering(t *testing.T) {
	e := newEnv(t)
	e.command(t, 1, "start", "")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Привет") {
		t.Fatalf("welcome = %q", got)
	}
	p, ok, err := e.store.Participant(context.Background(), 1)
	if err != nil || !ok || p.Active {
		t.Fatalf("after /start: p=%+v ok=%v err=%v", p, ok, err)
	}

	e.button(t, 1, ButtonStart)
	if got := e.ad.lastTo(1); !strings.Contains(got, "Тренировка началась") || !strings.Contains(got, "10:00 - 20:00") {
		t.Fatalf("start reply = %q", got)
	}
	e.button(t, 1, ButtonStart)
	if got := e.ad.lastTo(1); !strings.Contains(got, "уже активна") {
		t.Fatalf("second start reply = %q", got)
	}

	entries, err := e.store.Deliveries(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("deliveries = %v, %v", entries, err)
	}
}

func TestAnswerFlow(t *testing.T) {
	e := newEnv(t)
	e.text(t, 1, "привет")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Сначала начни тренировку") {
		t.Fatalf("inactive reply = %q", got)
	}

	e.button(t, 1, ButtonStart)
	e.text(t, 1, "а где вопрос?")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Пока нет новых сообщений") {
		t.Fatalf("no pending reply = %q", got)
	}

	e.command(t, ownerID, "send_now", "")
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "Сообщение #1 отправлено: 1 из 1") {
		t.Fatalf("send_now reply = %q", got)
	}
	if got := e.ad.lastTo(1); !strings.Contains(got, "<b>Сообщение #1</b>") || !strings.Contains(got, "<i>Доставка</i>") {
		t.Fatalf("delivered = %q", got)
	}

	e.now = e.now.Add(95 * time.Second)
	e.text(t, 1, "Проверю статус заказа")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Ответ записан") || !strings.Contains(got, "1 мин 35 сек") {
		t.Fatalf("answer reply = %q", got)
	}
	e.text(t, 1, "ещё раз")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Пока нет новых сообщений") {
		t.Fatalf("second answer reply = %q", got)
	}

	audit, err := e.store.RecentAudit(context.Background(), 10)
	if err != nil || len(audit) != 1 || audit[0].Action != "send_now" || audit[0].OK != 1 || audit[0].Target != "#1" {
		t.Fatalf("audit = %+v, %v", audit, err)
	}
	e.command(t, ownerID, "audit", "")
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "send_now #1") {
		t.Fatalf("audit reply = %q", got)
	}
}

func TestStopButton(t *testing.T) {
	e := newEnv(t)
	e.button(t, 1, ButtonStop)
	if got := e.ad.lastTo(1); !strings.Contains(got, "не активна") {
		t.Fatalf("stop inactive = %q", got)
	}
	e.button(t, 1, ButtonStart)
	e.button(t, 1, ButtonStop)
	if got := e.ad.lastTo(1); !strings.Contains(got, "Тренировка завершена") {
		t.Fatalf("stop = %q", got)
	}
}

func TestOwnerOnlyCommands(t *testing.T) {
	e := newEnv(t)
	e.command(t, 1, "send_now", "")
	if got := e.ad.lastTo(1); !strings.Contains(got, "только администратору") {
		t.Fatalf("denied reply = %q", got)
	}
	e.callback(t, 1, "admin:reset_confirm")
	if len(e.ad.answers) != 1 || e.ad.answers[0] != "⛔ Нет доступа" {
		t.Fatalf("callback answers = %v", e.ad.answers)
	}
	if len(e.ad.edits) != 0 {
		t.Fatalf("denied callback edited a message")
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	e.command(t, 1, "nope", "")
	if got := e.ad.lastTo(1); !strings.Contains(got, "Неизвестная команда") {
		t.Fatalf("reply = %q", got)
	}
}

func TestHelpListsAdminCommandsForOwnersOnly(t *testing.T) {
	e := newEnv(t)
	e.command(t, 1, "help", "")
	if got := e.ad.lastTo(1); strings.Contains(got, "/reset") {
		t.Fatalf("user help lists /reset: %q", got)
	}
	e.command(t, ownerID, "help", "")
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "/reset") || !strings.Contains(got, "/export_user") {
		t.Fatalf("owner help = %q", got)
	}
}

func TestResetViaPanel(t *testing.T) {
	e := newEnv(t)
	e.button(t, 1, ButtonStart)
	e.command(t, ownerID, "send_now", "")

	e.callback(t, ownerID, "admin:reset")
	if n := len(e.ad.edits); n != 1 || !strings.Contains(e.ad.edits[0].text, "Продолжить?") {
		t.Fatalf("reset prompt edits = %+v", e.ad.edits)
	}
	e.callback(t, ownerID, "admin:reset_confirm")

	ctx := context.Background()
	entries, _ := e.store.Deliveries(ctx)
	active, _ := e.store.ActiveParticipants(ctx)
	if len(entries) != 0 || len(active) != 0 {
		t.Fatalf("after reset: %d entries, %d active", len(entries), len(active))
	}
	st, err := e.bot.d.Trainer.Status(ctx)
	if err != nil || st.Cursor != 1 {
		t.Fatalf("cursor after reset = %d, %v", st.Cursor, err)
	}
}

func TestExportSendsDocument(t *testing.T) {
	e := newEnv(t)
	e.command(t, ownerID, "export", "")
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "Нет данных") {
		t.Fatalf("empty export reply = %q", got)
	}

	e.button(t, 1, ButtonStart)
	e.command(t, ownerID, "send_now", "")
	e.command(t, ownerID, "export", "")
	if len(e.ad.docs) != 1 {
		t.Fatalf("docs = %d", len(e.ad.docs))
	}
	if !strings.HasPrefix(e.ad.docs[0].FileName, "training_results_20250303_") {
		t.Fatalf("file name = %q", e.ad.docs[0].FileName)
	}
	if !strings.Contains(string(e.ad.docBody[0]), "Где мой заказ?") {
		t.Fatalf("csv = %q", e.ad.docBody[0])
	}

	e.callback(t, ownerID, "admin:export_user:1")
	if len(e.ad.docs) != 2 || !strings.HasPrefix(e.ad.docs[1].FileName, "user_") {
		t.Fatalf("docs = %+v", e.ad.docs)
	}
}

func TestScriptsPaging(t *testing.T) {
	e := newEnv(t)
	items := make([]training.ScenarioItem, 0, 23)
	for i := 1; i <= 23; i++ {
		items = append(items, training.ScenarioItem{Index: i, Text: strings.Repeat("x", 150), Category: "Общее"})
	}
	if err := e.bot.d.Trainer.LoadScenario(context.Background(), items); err != nil {
		t.Fatalf("load: %v", err)
	}

	e.button(t, 1, ButtonScripts)
	e.ad.mu.Lock()
	first := e.ad.sent[len(e.ad.sent)-1]
	e.ad.mu.Unlock()
	if !strings.Contains(first.text, "Стр. 1/3") || !strings.Contains(first.text, "…") {
		t.Fatalf("page 1 = %q", first.text)
	}
	if len(first.opt.Inline) != 1 || len(first.opt.Inline[0]) != 1 || first.opt.Inline[0][0].Data != "scripts:page:1" {
		t.Fatalf("page 1 keyboard = %+v", first.opt.Inline)
	}

	e.callback(t, 1, "scripts:page:2")
	if len(e.ad.edits) != 1 || !strings.Contains(e.ad.edits[0].text, "Стр. 3/3 • 21–23 из 23") {
		t.Fatalf("page 3 edit = %+v", e.ad.edits)
	}
}

func TestRenderItemEscapes(t *testing.T) {
	got := RenderItem(training.ScenarioItem{Index: 4, Text: "a <b> & c", Category: ""}, 10)
	want := "📨 <b>Сообщение #4</b>\n\n<i>Общее</i>\n\na &lt;b&gt; &amp; c"
	if got != want {
		t.Fatalf("RenderItem = %q, want %q", got, want)
	}
}

func TestTickText(t *testing.T) {
	s := Settings{Window: training.Window{Start: 9, End: 18}}
	tests := []struct {
		name string
		res  training.TickResult
		err  error
		want string
	}{
		{"delivered", training.TickResult{Outcome: training.TickDelivered, Index: 3, Recipients: 4, Delivered: 3, Failed: 1}, nil, "✅ Сообщение #3 отправлено: 3 из 4 (ошибок: 1)"},
		{"window", training.TickResult{Outcome: training.TickOutsideWindow}, nil, "⏰ Вне рабочего времени (09:00 - 18:00)"},
		{"busy", training.TickResult{Outcome: training.TickBusy}, nil, "⏳ Рассылка уже идёт, попробуйте позже."},
		{"config", training.TickResult{}, &training.ConfigurationError{Index: 5, Total: 9}, "❌ Сценарий повреждён: нет сообщения #5 (всего 9). Перезагрузите сценарий."},
		{"other", training.TickResult{}, errors.New("db down"), "❌ Ошибка рассылки: db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tickText(tt.res, tt.err, s); got != tt.want {
				t.Fatalf("tickText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventsNotifyOwners(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.bot.handleEvent(ctx, eventbus.Event{Type: training.EventTickFinished, Data: training.TickResult{Outcome: training.TickDelivered, Index: 1, Total: 2}})
	if n := e.ad.countTo(ownerID); n != 0 {
		t.Fatalf("mid-scenario tick notified owner %d times", n)
	}
	e.bot.handleEvent(ctx, eventbus.Event{Type: training.EventTickFinished, Data: training.TickResult{Outcome: training.TickDelivered, Index: 2, Total: 2}})
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "последнее сообщение") {
		t.Fatalf("final tick notice = %q", got)
	}
	e.bot.handleEvent(ctx, eventbus.Event{Type: training.EventMisconfigured, Data: &training.ConfigurationError{Index: 2, Total: 3}})
	if got := e.ad.lastTo(ownerID); !strings.Contains(got, "Сценарий повреждён") {
		t.Fatalf("misconfigured notice = %q", got)
	}
}

func TestApplyChangesOwners(t *testing.T) {
	e := newEnv(t)
	if e.bot.IsOwner(1) {
		t.Fatalf("1 is owner before apply")
	}
	s := e.bot.Settings()
	s.Owners = []int64{1}
	e.bot.Apply(s)
	if !e.bot.IsOwner(1) || e.bot.IsOwner(ownerID) {
		t.Fatalf("owners after apply: 1=%v %d=%v", e.bot.IsOwner(1), ownerID, e.bot.IsOwner(ownerID))
	}
}

func TestShardIsStable(t *testing.T) {
	for _, id := range []int64{1, 42, 123456789} {
		a, b := shard(id, 8), shard(id, 8)
		if a != b || a < 0 || a >= 8 {
			t.Fatalf("shard(%d) = %d, %d", id, a, b)
		}
	}
}
