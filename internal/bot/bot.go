// Package bot is the chat surface of the trainer: the participant menu, the
// operator panel and the commands behind them.
package bot

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"drillbot/internal/eventbus"
	"drillbot/internal/export"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	logx "drillbot/pkg/logx"
	"drillbot/pkg/tgui"
)

// Settings are the parts of the config the chat surface displays or
// enforces. They can change at runtime via Apply.
type Settings struct {
	Interval time.Duration
	Window   training.Window
	Owners   []int64
}

// AuditLog records operator actions.
type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

type Deps struct {
	Trainer  *training.Trainer
	Exporter *export.Exporter
	Adapter  kit.Adapter
	Audit    AuditLog
	// NextTick reports when the timer fires next; may be nil.
	NextTick func() time.Time
	// Workers is the number of update handler goroutines.
	Workers int
}

type Bot struct {
	d      Deps
	router *Router
	log    logx.Logger

	mu       sync.RWMutex
	settings Settings
}

func New(d Deps, s Settings, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{d: d, settings: s, log: log.With(logx.String("comp", "bot"))}
	b.router = NewRouter(d.Adapter, b.IsOwner, d.Workers, log)
	b.registerUser()
	b.registerAdmin()
	return b
}

// Apply swaps the displayed schedule and the owner list.
func (b *Bot) Apply(s Settings) {
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
}

func (b *Bot) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

func (b *Bot) IsOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.settings.Owners, id)
}

func (b *Bot) Router() *Router { return b.router }

// Run handles updates until ctx is done or updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	return b.router.Run(ctx, updates)
}

// NotifyOwners sends text to every owner. Failures are logged.
func (b *Bot) NotifyOwners(ctx context.Context, text string) {
	for _, id := range b.Settings().Owners {
		msg := tgui.New().Line(text).Build()
		if _, err := msg.Send(ctx, b.d.Adapter, kit.ChatTarget{ChatID: id}); err != nil {
			b.log.Warn("owner notify failed", logx.Int64("owner_id", id), logx.Err(err))
		}
	}
}

// WatchEvents tells owners when the last scenario message went out and when
// the scenario turns out to be broken.
func (b *Bot) WatchEvents(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(16, training.EventTickFinished, training.EventMisconfigured)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case training.EventTickFinished:
		res, ok := ev.Data.(training.TickResult)
		if !ok || res.Outcome != training.TickDelivered || res.Index < res.Total {
			return
		}
		b.NotifyOwners(ctx, "🏁 Отправлено последнее сообщение сценария ("+strconv.Itoa(res.Total)+"). Тренировка завершена, результаты можно выгрузить: /export")
	case training.EventMisconfigured:
		err, _ := ev.Data.(error)
		if err == nil {
			return
		}
		b.NotifyOwners(ctx, tickText(training.TickResult{}, err, b.Settings()))
	}
}

func (b *Bot) audit(ctx context.Context, req *Request, action, target string, ok, fail int, err error, started time.Time) {
	if b.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       req.From.ID,
		ActorUsername: req.From.Username,
		Action:        action,
		Target:        target,
		OK:            ok,
		Fail:          fail,
		TookMS:        time.Since(started).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := b.d.Audit.AppendAudit(ctx, e); aerr != nil {
		req.Log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, msg tgui.Message) error {
	_, err := msg.Send(ctx, b.d.Adapter, req.Chat)
	return err
}

func (b *Bot) replyText(ctx context.Context, req *Request, text string) error {
	return b.reply(ctx, req, tgui.New().Line(text).Build())
}

// edit replaces the callback's message.
func (b *Bot) edit(ctx context.Context, req *Request, msg tgui.Message) error {
	if req.Callback == nil {
		return b.reply(ctx, req, msg)
	}
	return msg.Edit(ctx, b.d.Adapter, kit.MessageRef{ChatID: req.Callback.ChatID, MessageID: req.Callback.MessageID})
}

func (b *Bot) ack(ctx context.Context, req *Request, text string) {
	if req.Callback == nil {
		return
	}
	if err := b.d.Adapter.AnswerCallback(ctx, req.Callback.ID, text); err != nil {
		req.Log.Debug("answer callback failed", logx.Err(err))
	}
}

func (b *Bot) sendReport(ctx context.Context, req *Request, rep export.Report, err error, caption string) error {
	switch {
	case errors.Is(err, export.ErrNoData):
		return b.replyText(ctx, req, "📭 Нет данных для экспорта.")
	case err != nil:
		req.Log.Error("export failed", logx.Err(err))
		return b.replyText(ctx, req, "❌ Не удалось сформировать отчёт.")
	}
	return b.d.Adapter.SendDocument(ctx, req.Chat, kit.Document{
		FileName: rep.FileName,
		Caption:  caption,
		Body:     bytes.NewReader(rep.Data),
	})
}

func sortCommands(cmds []Command) {
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
}
