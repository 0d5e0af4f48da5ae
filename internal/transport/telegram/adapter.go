// Package telegram implements transport.Adapter on top of telebot.v4 long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "drillbot/internal/runtime/supervisor"
	kit "drillbot/internal/transport"
	logx "drillbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Buttons make up the persistent reply keyboard. Presses are delivered
	// as UpdateButton, never as free text.
	Buttons []kit.Button
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot      *tele.Bot
	mainMenu *tele.ReplyMarkup

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return newWithBot(cfg, b, log), nil
}

// NewOffline builds an adapter that can send but never polls. The CLI uses it
// to deliver exports without competing with a running bot for updates.
func NewOffline(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return newWithBot(cfg, b, log), nil
}

func newWithBot(cfg Config, b *tele.Bot, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.mainMenu = a.buildMainMenu()
	a.registerHandlers()
	return a
}

func (a *Adapter) buildMainMenu() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(a.cfg.Buttons))
	for _, b := range a.cfg.Buttons {
		rows = append(rows, menu.Row(menu.Text(b.Label)))
	}
	menu.Reply(rows...)
	return menu
}

func (a *Adapter) registerHandlers() {
	// telebot matches a reply button by its exact text before falling back to
	// OnText, so button presses are classified here and only here.
	for _, b := range a.cfg.Buttons {
		key := b.Key
		btn := &tele.Btn{Text: b.Label}
		a.bot.Handle(btn, func(c tele.Context) error {
			m := c.Message()
			if m == nil {
				return nil
			}
			msg := messageFrom(m)
			msg.Button = key
			a.sendUpdate(kit.Update{Kind: kit.UpdateButton, Message: msg})
			return nil
		})
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		msg := messageFrom(m)
		if cmd, args, ok := parseCommand(m.Text); ok {
			msg.Command, msg.Args = cmd, args
			a.sendUpdate(kit.Update{Kind: kit.UpdateCommand, Message: msg})
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateText, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				From:      userFrom(cb.Sender),
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func messageFrom(m *tele.Message) *kit.Message {
	msg := &kit.Message{ID: m.ID, Text: m.Text}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.Sender != nil {
		msg.From = userFrom(m.Sender)
	}
	return msg
}

func userFrom(u *tele.User) kit.User {
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

// parseCommand splits "/cmd@bot args" into ("cmd", "args").
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.droppedUpdates.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. If it returns early while the context is
	// still live, restart it.
	sup.GoRestart("telebot.poll", 500*time.Millisecond, 10*time.Second, false, func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Long polling may hold getUpdates open; never block shutdown on it.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	switch {
	case len(opt.Inline) > 0:
		so.ReplyMarkup = inlineMarkup(opt.Inline)
	case opt.MainMenu:
		so.ReplyMarkup = a.mainMenu
	}
	return so
}

func inlineMarkup(rows [][]kit.InlineButton) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	out := make([][]tele.InlineButton, 0, len(rows))
	for _, r := range rows {
		row := make([]tele.InlineButton, 0, len(r))
		for _, b := range r {
			row = append(row, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		out = append(out, row)
	}
	rm.InlineKeyboard = out
	return rm
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := a.sendOptions(to, opt)
		if i > 0 {
			// markup belongs to the first chunk only
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitText(text, textLimit, parseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], a.sendOptions(kit.ChatTarget{ChatID: ref.ChatID}, opt)); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, &tele.SendOptions{ParseMode: parseMode}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := &tele.Document{File: tele.FromReader(doc.Body), FileName: doc.FileName, Caption: doc.Caption}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, d, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: text != ""})
}
