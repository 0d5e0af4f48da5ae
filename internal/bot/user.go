package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"drillbot/internal/training"
)

func (b *Bot) registerUser() {
	r := b.router
	r.Command(Command{Name: "start", Description: "Приветствие и меню", Timeout: 10 * time.Second, Handle: b.cmdStart})
	r.Command(Command{Name: "help", Description: "Список команд", Timeout: 10 * time.Second, Handle: b.cmdHelp})
	r.Button(ButtonStart, b.btnStart)
	r.Button(ButtonStop, b.btnStop)
	r.Button(ButtonScripts, b.btnScripts)
	r.Callback(CallbackRoute{Scope: "scripts", Action: "page", Timeout: 10 * time.Second, Handle: b.cbScriptsPage})
	r.Text(b.onText)
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	u := req.From
	if _, err := b.d.Trainer.OnFirstContact(ctx, u.ID, u.Username, u.FullName()); err != nil {
		return err
	}
	return b.reply(ctx, req, welcomeText(u.FirstName))
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	owner := b.IsOwner(req.From.ID)
	return b.reply(ctx, req, helpText(b.router.Commands(owner), owner))
}

func (b *Bot) btnStart(ctx context.Context, req *Request) error {
	u := req.From
	out, err := b.d.Trainer.OnUserStart(ctx, u.ID, u.Username, u.FullName())
	if err != nil {
		return err
	}
	if out == training.AlreadyActive {
		return b.reply(ctx, req, alreadyActiveText())
	}
	st, err := b.d.Trainer.Status(ctx)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, startedText(b.Settings(), st.Total))
}

func (b *Bot) btnStop(ctx context.Context, req *Request) error {
	out, err := b.d.Trainer.OnUserStop(ctx, req.From.ID)
	if err != nil {
		return err
	}
	if out == training.NotActive {
		return b.reply(ctx, req, notActiveText())
	}
	return b.reply(ctx, req, stoppedText())
}

func (b *Bot) btnScripts(ctx context.Context, req *Request) error {
	items, err := b.d.Trainer.Scenario(ctx)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, scriptsText(items, 0))
}

func (b *Bot) cbScriptsPage(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	page, err := strconv.Atoi(req.Payload)
	if err != nil {
		page = 0
	}
	items, err := b.d.Trainer.Scenario(ctx)
	if err != nil {
		return err
	}
	return b.edit(ctx, req, scriptsText(items, page))
}

// onText treats free text as an answer to the participant's newest
// delivered message.
func (b *Bot) onText(ctx context.Context, req *Request) error {
	if req.Message == nil || strings.TrimSpace(req.Message.Text) == "" {
		return nil
	}
	res, err := b.d.Trainer.OnIncomingText(ctx, req.From.ID, req.Message.Text)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, answerText(res))
}
