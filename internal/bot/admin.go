package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	logx "drillbot/pkg/logx"
	"drillbot/pkg/tgui"
)

const (
	adminTimeout  = 30 * time.Second
	exportTimeout = 2 * time.Minute
	// tickTimeout covers a full fan-out at the configured send rate.
	tickTimeout = 5 * time.Minute

	exportMenuLimit = 30
	auditLimit      = 15
)

func (b *Bot) registerAdmin() {
	r := b.router
	owner := func(name, desc string, timeout time.Duration, h HandlerFunc) {
		r.Command(Command{Name: name, Description: desc, Access: AccessOwnerOnly, Timeout: timeout, Handle: h})
	}
	owner("admin", "Админ-панель", adminTimeout, b.cmdAdmin)
	owner("export", "Выгрузить все результаты (CSV)", exportTimeout, b.cmdExport)
	owner("export_user", "Выгрузить результаты пользователя: /export_user <id>", exportTimeout, b.cmdExportUser)
	owner("reset", "Сбросить тренировку", adminTimeout, b.cmdReset)
	owner("users", "Список пользователей", adminTimeout, b.cmdUsers)
	owner("stats", "Статистика (или /stats <id>)", adminTimeout, b.cmdStats)
	owner("send_now", "Отправить следующее сообщение сейчас", tickTimeout, b.cmdSendNow)
	owner("status", "Состояние рассылки", adminTimeout, b.cmdStatus)
	owner("audit", "Последние действия администраторов", adminTimeout, b.cmdAudit)

	cb := func(action string, timeout time.Duration, h HandlerFunc) {
		r.Callback(CallbackRoute{Scope: "admin", Action: action, Access: AccessOwnerOnly, Timeout: timeout, Handle: h})
	}
	cb("panel", adminTimeout, b.cbPanel)
	cb("export", adminTimeout, b.cbExportMenu)
	cb("export_all", exportTimeout, b.cbExportAll)
	cb("export_user", exportTimeout, b.cbExportUser)
	cb("stats", adminTimeout, b.cbStats)
	cb("send_now", tickTimeout, b.cbSendNow)
	cb("reset", adminTimeout, b.cbReset)
	cb("reset_confirm", adminTimeout, b.cbResetConfirm)
	cb("close", adminTimeout, b.cbClose)
}

func adminData(action, payload string) string { return tgui.Data("admin", action, payload) }

func backRow() []kit.InlineButton {
	return []kit.InlineButton{tgui.Btn("⬅️ Назад", adminData("panel", ""))}
}

func withInline(msg tgui.Message, kb *tgui.Inline) tgui.Message {
	msg.Opt.Inline = kb.Rows()
	return msg
}

func (b *Bot) panel(ctx context.Context) (tgui.Message, error) {
	st, err := b.d.Trainer.Status(ctx)
	if err != nil {
		return tgui.Message{}, err
	}
	s := b.Settings()
	bl := tgui.New().Title("🔧", "Админ-панель").Blank()
	if st.Completed {
		bl.KV("Сценарий", fmt.Sprintf("завершён (%d)", st.Total))
	} else {
		bl.KV("Следующее сообщение", fmt.Sprintf("#%d из %d", st.Cursor, st.Total))
	}
	bl.KV("Активных участников", strconv.Itoa(st.ActiveCount))
	bl.KV("Рабочее время", windowLabel(s.Window))
	kb := tgui.NewInline().
		Row(tgui.Btn("📥 Экспорт", adminData("export", "")), tgui.Btn("📊 Статистика", adminData("stats", ""))).
		Row(tgui.Btn("📨 Отправить сейчас", adminData("send_now", "")), tgui.Btn("🗑 Сброс", adminData("reset", ""))).
		Row(tgui.Btn("✖️ Закрыть", adminData("close", "")))
	return bl.Inline(kb).Build(), nil
}

func (b *Bot) exportMenu(ctx context.Context) (tgui.Message, error) {
	list, err := b.d.Trainer.Registry().ListAll(ctx)
	if err != nil {
		return tgui.Message{}, err
	}
	bl := tgui.New().Title("📥", "Экспорт результатов").Blank()
	kb := tgui.NewInline().Row(tgui.Btn("📦 Все результаты", adminData("export_all", "")))
	if len(list) == 0 {
		bl.Line("Пользователей пока нет.")
	} else {
		bl.Line("Выбери пользователя или выгрузи всё одним файлом.")
	}
	for i, p := range list {
		if i == exportMenuLimit {
			bl.Blank().Line(fmt.Sprintf("Показаны первые %d. Остальные: /export_user <id>", exportMenuLimit))
			break
		}
		kb.Row(tgui.Btn("👤 "+tgui.TruncRunes(participantLabel(p), 40), adminData("export_user", strconv.FormatInt(p.ID, 10))))
	}
	kb.Row(backRow()...)
	return bl.Inline(kb).Build(), nil
}

func participantStatsText(ps training.ParticipantStats) tgui.Message {
	status := "⚪ не активен"
	if ps.Participant.Active {
		status = "🟢 активен"
	}
	b := tgui.New().
		Title("📊", "Статистика: "+participantLabel(ps.Participant)).
		Blank().
		KV("ID", strconv.FormatInt(ps.Participant.ID, 10)).
		KV("Статус", status).
		KV("Получено сообщений", strconv.Itoa(ps.Received)).
		KV("Ответов", fmt.Sprintf("%d (%d%%)", ps.Answered, ps.AnswerRate())).
		KV("Без ответа", strconv.Itoa(ps.Unanswered()))
	if ps.Latency.Count > 0 {
		b.KV("Среднее время ответа", training.FormatLatency(ps.Latency.Avg))
		b.KV("Быстрее всего", training.FormatLatency(ps.Latency.Min))
		b.KV("Дольше всего", training.FormatLatency(ps.Latency.Max))
	}
	return b.Build()
}

func resetConfirmText() tgui.Message {
	kb := tgui.Confirm(
		tgui.Btn("✅ Да, сбросить", adminData("reset_confirm", "")),
		tgui.Btn("❌ Отмена", adminData("panel", "")),
	)
	return tgui.New().
		Title("⚠️", "Сброс тренировки").
		Blank().
		Line("Будут удалены все отправленные сообщения и ответы, все участники будут деактивированы.").
		Line("Рассылка начнётся заново с сообщения #1.").
		Blank().
		Line("Продолжить?").
		Inline(kb).
		Build()
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil && id != 0
}

// commands

func (b *Bot) cmdAdmin(ctx context.Context, req *Request) error {
	msg, err := b.panel(ctx)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, msg)
}

func (b *Bot) cmdExport(ctx context.Context, req *Request) error {
	return b.exportAll(ctx, req)
}

func (b *Bot) cmdExportUser(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Args) == "" {
		msg, err := b.exportMenu(ctx)
		if err != nil {
			return err
		}
		return b.reply(ctx, req, msg)
	}
	id, ok := parseID(req.Args)
	if !ok {
		return b.replyText(ctx, req, "❌ Неверный ID пользователя. Пример: /export_user 123456789")
	}
	return b.exportParticipant(ctx, req, id)
}

func (b *Bot) cmdReset(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, resetConfirmText())
}

func (b *Bot) cmdUsers(ctx context.Context, req *Request) error {
	list, err := b.d.Trainer.Registry().ListAll(ctx)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, usersText(list))
}

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Args) != "" {
		id, ok := parseID(req.Args)
		if !ok {
			return b.replyText(ctx, req, "❌ Неверный ID пользователя. Пример: /stats 123456789")
		}
		ps, found, err := b.d.Trainer.ParticipantStats(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return b.replyText(ctx, req, "❌ Пользователь не найден.")
		}
		return b.reply(ctx, req, participantStatsText(ps))
	}
	msg, err := b.overallStats(ctx)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, msg)
}

func (b *Bot) cmdSendNow(ctx context.Context, req *Request) error {
	return b.replyText(ctx, req, b.sendNow(ctx, req))
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	st, err := b.d.Trainer.Status(ctx)
	if err != nil {
		return err
	}
	var next time.Time
	if b.d.NextTick != nil {
		next = b.d.NextTick()
	}
	return b.reply(ctx, req, statusText(st, b.Settings(), next))
}

func (b *Bot) cmdAudit(ctx context.Context, req *Request) error {
	list, err := b.d.Audit.RecentAudit(ctx, auditLimit)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, auditText(list, b.Settings().Window.Loc))
}

// shared actions

func (b *Bot) overallStats(ctx context.Context) (tgui.Message, error) {
	st, err := b.d.Trainer.Stats(ctx)
	if err != nil {
		return tgui.Message{}, err
	}
	status, err := b.d.Trainer.Status(ctx)
	if err != nil {
		return tgui.Message{}, err
	}
	return statsText(st, status), nil
}

func (b *Bot) exportAll(ctx context.Context, req *Request) error {
	started := time.Now()
	rep, err := b.d.Exporter.All(ctx, b.d.Trainer.Now())
	b.audit(ctx, req, "export", "all", rep.Rows, 0, err, started)
	return b.sendReport(ctx, req, rep, err, fmt.Sprintf("📊 Результаты тренировки: %d записей", rep.Rows))
}

func (b *Bot) exportParticipant(ctx context.Context, req *Request, id int64) error {
	started := time.Now()
	rep, err := b.d.Exporter.Participant(ctx, id, b.d.Trainer.Now())
	b.audit(ctx, req, "export_user", strconv.FormatInt(id, 10), rep.Rows, 0, err, started)
	return b.sendReport(ctx, req, rep, err, fmt.Sprintf("👤 Результаты пользователя %d: %d записей", id, rep.Rows))
}

// sendNow runs a manual tick and returns the operator-facing summary.
func (b *Bot) sendNow(ctx context.Context, req *Request) string {
	started := time.Now()
	res, err := b.d.Trainer.OnManualTrigger(ctx)
	target := res.Outcome.String()
	if res.Outcome == training.TickDelivered {
		target = "#" + strconv.Itoa(res.Index)
	}
	b.audit(ctx, req, "send_now", target, res.Delivered, res.Failed, err, started)
	if err != nil {
		req.Log.Error("manual tick failed", logx.Err(err))
	}
	return tickText(res, err, b.Settings())
}

// callbacks

func (b *Bot) cbPanel(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	msg, err := b.panel(ctx)
	if err != nil {
		return err
	}
	return b.edit(ctx, req, msg)
}

func (b *Bot) cbExportMenu(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	msg, err := b.exportMenu(ctx)
	if err != nil {
		return err
	}
	return b.edit(ctx, req, msg)
}

func (b *Bot) cbExportAll(ctx context.Context, req *Request) error {
	b.ack(ctx, req, "")
	return b.exportAll(ctx, req)
}

func (b *Bot) cbExportUser(ctx context.Context, req *Request) error {
	id, ok := parseID(req.Payload)
	if !ok {
		b.ack(ctx, req, "Неверный ID")
		return nil
	}
	b.ack(ctx, req, "")
	return b.exportParticipant(ctx, req, id)
}

func (b *Bot) cbStats(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	msg, err := b.overallStats(ctx)
	if err != nil {
		return err
	}
	return b.edit(ctx, req, withInline(msg, tgui.NewInline().Row(backRow()...)))
}

func (b *Bot) cbSendNow(ctx context.Context, req *Request) error {
	b.ack(ctx, req, "")
	return b.replyText(ctx, req, b.sendNow(ctx, req))
}

func (b *Bot) cbReset(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	return b.edit(ctx, req, resetConfirmText())
}

func (b *Bot) cbResetConfirm(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	started := time.Now()
	err := b.d.Trainer.Reset(ctx)
	b.audit(ctx, req, "reset", "all", 0, 0, err, started)
	if err != nil {
		req.Log.Error("reset failed", logx.Err(err))
		return b.edit(ctx, req, tgui.New().Line("❌ Не удалось сбросить тренировку.").Build())
	}
	req.Log.Warn("training reset by owner", logx.String("username", req.From.Username))
	msg := tgui.New().
		Title("✅", "Тренировка сброшена").
		Blank().
		Line("Все ответы удалены, участники деактивированы.").
		Line("Следующая рассылка начнётся с сообщения #1.").
		Build()
	return b.edit(ctx, req, withInline(msg, tgui.NewInline().Row(backRow()...)))
}

func (b *Bot) cbClose(ctx context.Context, req *Request) error {
	defer b.ack(ctx, req, "")
	return b.d.Adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: req.Callback.ChatID, MessageID: req.Callback.MessageID})
}
