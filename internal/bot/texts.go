package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drillbot/internal/storage"
	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	"drillbot/pkg/tgui"
)

const (
	ButtonStart   = "start_training"
	ButtonScripts = "scripts"
	ButtonStop    = "stop_training"

	labelStart   = "▶️ Начать тренировку"
	labelScripts = "📄 Скрипты"
	labelStop    = "⛔ Завершить"

	scriptsPageSize = 10
	previewRunes    = 100
)

// MenuButtons is the persistent reply keyboard.
func MenuButtons() []kit.Button {
	return []kit.Button{
		{Key: ButtonStart, Label: labelStart},
		{Key: ButtonScripts, Label: labelScripts},
		{Key: ButtonStop, Label: labelStop},
	}
}

// RenderItem is the text participants receive for a scenario item.
func RenderItem(item training.ScenarioItem, total int) string {
	category := item.Category
	if category == "" {
		category = "Общее"
	}
	return tgui.New().
		Title("📨", fmt.Sprintf("Сообщение #%d", item.Index)).
		Blank().
		RawLine(tgui.I(category).String()).
		Blank().
		Line(item.Text).
		Build().Text
}

func windowLabel(w training.Window) string {
	return fmt.Sprintf("%02d:00 - %02d:00", w.Start, w.End)
}

func intervalLabel(d time.Duration) string {
	return training.FormatLatency(int64(d / time.Second))
}

func welcomeText(firstName string) tgui.Message {
	if firstName == "" {
		firstName = "коллега"
	}
	return tgui.New().
		RawLine("👋 Привет, "+tgui.B(firstName).String()+"!").
		Blank().
		Line("Я бот-тренажёр для отработки навыков поддержки клиентов.").
		Blank().
		Title("🎯", "Как это работает:").
		Line("1. Нажми «"+labelStart+"»").
		Line("2. Тебе будут приходить сообщения от «клиентов»").
		Line("3. Отвечай на них как настоящий специалист поддержки").
		Line("4. Твои ответы и время реакции будут записаны").
		Blank().
		Line("📊 Результаты можно экспортировать для анализа.").
		Blank().
		Line("Готов начать?").
		MainMenu().
		Build()
}

func startedText(s Settings, total int) tgui.Message {
	return tgui.New().
		Title("✅", "Тренировка началась!").
		Blank().
		Line("📨 Сообщения от «клиентов» будут приходить автоматически.").
		Line("⏰ Интервал между сообщениями: "+intervalLabel(s.Interval)).
		Line(fmt.Sprintf("🕐 Рабочее время: %s (%d вопросов)", windowLabel(s.Window), total)).
		Blank().
		Line("Отвечай на каждое сообщение текстом - я запишу твой ответ и время реакции.").
		Blank().
		Line("Удачи! 💪").
		MainMenu().
		Build()
}

func alreadyActiveText() tgui.Message {
	return tgui.New().
		Line("⚠️ Тренировка уже активна!").
		Line("Сообщения будут приходить автоматически.").
		Blank().
		Line("Для завершения нажми «" + labelStop + "»").
		MainMenu().
		Build()
}

func stoppedText() tgui.Message {
	return tgui.New().
		Title("⛔", "Тренировка завершена!").
		Blank().
		Line("Спасибо за участие! 👏").
		Line("Твои результаты сохранены.").
		Blank().
		Line("Хочешь начать заново? Нажми «" + labelStart + "»").
		MainMenu().
		Build()
}

func notActiveText() tgui.Message {
	return tgui.New().
		Line("ℹ️ Тренировка не активна.").
		Line("Нажми «" + labelStart + "» для старта.").
		MainMenu().
		Build()
}

func answerText(res training.AnswerResult) tgui.Message {
	switch res.Outcome {
	case training.AnswerRecorded:
		return tgui.New().
			Line("✅ Ответ записан!").
			Blank().
			RawLine("⏱ Время ответа: "+tgui.B(training.FormatLatency(res.ResponseSeconds)).String()).
			Blank().
			Line("Жди следующего сообщения от «клиента» 📨").
			Build()
	case training.AnswerNoPendingQuestion:
		return tgui.New().
			Line("⏳ Пока нет новых сообщений для ответа.").
			Line("Жди следующего сообщения от «клиента»!").
			Build()
	default:
		return tgui.New().
			Line("ℹ️ Сначала начни тренировку!").
			Line("Нажми «" + labelStart + "»").
			MainMenu().
			Build()
	}
}

func scriptsText(items []training.ScenarioItem, page int) tgui.Message {
	if len(items) == 0 {
		return tgui.New().Line("📭 Сценарий пока не загружен.").Build()
	}
	p := tgui.Paginate(items, page, scriptsPageSize)
	b := tgui.New().Title("📄", "Сценарий тренировки:").Blank()
	for _, it := range p.Items {
		category := it.Category
		if category == "" {
			category = "Общее"
		}
		b.RawLine(tgui.B(fmt.Sprintf("%d.", it.Index)).String() + " " + tgui.I(category).String())
		b.Line(tgui.TruncRunes(it.Text, previewRunes))
		b.Blank()
	}
	b.RawLine(tgui.I(p.Label()).String())

	var nav []kit.InlineButton
	if p.HasPrev {
		nav = append(nav, tgui.Btn("◀️", tgui.Data("scripts", "page", fmt.Sprint(p.Index-1))))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn("▶️", tgui.Data("scripts", "page", fmt.Sprint(p.Index+1))))
	}
	if len(nav) > 0 {
		b.Inline(tgui.NewInline().Row(nav...))
	}
	return b.Build()
}

func helpText(cmds []Command, owner bool) tgui.Message {
	b := tgui.New()
	if owner {
		b.Title("🔧", "Админ-команды:")
	} else {
		b.Title("ℹ️", "Доступные команды:")
	}
	b.Blank()
	sortCommands(cmds)
	for _, c := range cmds {
		b.Line("/" + c.Name + " - " + c.Description)
	}
	return b.Build()
}

func participantLabel(p training.Participant) string {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = "Пользователь"
	}
	if p.Username != "" {
		return name + " @" + strings.TrimPrefix(p.Username, "@")
	}
	return name
}

func usersText(list []training.Participant) tgui.Message {
	if len(list) == 0 {
		return tgui.New().Line("👤 Пользователей пока нет.").Build()
	}
	b := tgui.New().Title("👥", "Пользователи:").Blank()
	active := 0
	for _, p := range list {
		status := "⚪"
		if p.Active {
			status = "🟢"
			active++
		}
		b.RawLine(status + " " + tgui.Mention(participantLabel(p), p.ID).String())
		b.RawLine("   ID: " + tgui.Code(fmt.Sprint(p.ID)).String())
	}
	b.Blank().RawLine(tgui.I(fmt.Sprintf("Всего: %d | Активных: %d", len(list), active)).String())
	return b.Build()
}

func statsText(st training.OverallStats, status training.Status) tgui.Message {
	b := tgui.New().
		Title("📊", "Статистика тренировки:").
		Blank().
		Line(fmt.Sprintf("👥 Пользователей: %d", st.Participants)).
		Line(fmt.Sprintf("🟢 Активных: %d", st.Active)).
		Blank().
		Line(fmt.Sprintf("📍 Прогресс: %d из %d (%d%%)", min(status.Cursor-1, status.Total), status.Total, status.ProgressPercent)).
		Line(fmt.Sprintf("📨 Отправлено сообщений: %d", st.Sent)).
		Line(fmt.Sprintf("✅ Получено ответов: %d (%d%%)", st.Answered, st.AnswerRate())).
		Line(fmt.Sprintf("📝 Без ответа: %d", st.Unanswered())).
		Blank().
		Line("⏱ Среднее время ответа: " + training.FormatLatency(st.Latency.Avg))
	if st.Latency.Count > 0 {
		b.Line("⚡ Быстрее всего: " + training.FormatLatency(st.Latency.Min))
		b.Line("🐢 Дольше всего: " + training.FormatLatency(st.Latency.Max))
	}
	return b.Build()
}

func statusText(st training.Status, s Settings, next time.Time) tgui.Message {
	b := tgui.New().Title("🛰", "Состояние рассылки").Blank()
	if st.Completed {
		b.KV("Сценарий", fmt.Sprintf("завершён (%d сообщений)", st.Total))
	} else {
		b.KV("Следующее сообщение", fmt.Sprintf("#%d из %d", st.Cursor, st.Total))
	}
	b.KV("Активных участников", fmt.Sprint(st.ActiveCount))
	b.KV("Интервал", intervalLabel(s.Interval))
	b.KV("Рабочее время", windowLabel(s.Window)+" ("+zoneName(s.Window.Loc)+")")
	if !next.IsZero() {
		b.KV("Следующий запуск", next.In(zoneOrLocal(s.Window.Loc)).Format("02.01 15:04"))
	}
	return b.Build()
}

// tickText reports a manual tick to the operator.
func tickText(res training.TickResult, err error, s Settings) string {
	var cfgErr *training.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("❌ Сценарий повреждён: нет сообщения #%d (всего %d). Перезагрузите сценарий.", cfgErr.Index, cfgErr.Total)
	case err != nil:
		return "❌ Ошибка рассылки: " + err.Error()
	}
	switch res.Outcome {
	case training.TickDelivered:
		txt := fmt.Sprintf("✅ Сообщение #%d отправлено: %d из %d", res.Index, res.Delivered, res.Recipients)
		if res.Failed > 0 {
			txt += fmt.Sprintf(" (ошибок: %d)", res.Failed)
		}
		return txt
	case training.TickOutsideWindow:
		return fmt.Sprintf("⏰ Вне рабочего времени (%s)", windowLabel(s.Window))
	case training.TickScenarioExhausted:
		return "🏁 Все сообщения сценария уже отправлены."
	case training.TickNoRecipients:
		return "👤 Нет активных участников."
	case training.TickBusy:
		return "⏳ Рассылка уже идёт, попробуйте позже."
	default:
		return res.Outcome.String()
	}
}

func auditText(list []storage.AuditEntry, loc *time.Location) tgui.Message {
	if len(list) == 0 {
		return tgui.New().Line("📭 Журнал действий пуст.").Build()
	}
	b := tgui.New().Title("🗂", "Последние действия:").Blank()
	lines := make([]string, 0, len(list))
	for _, e := range list {
		who := "#" + strconv.FormatInt(e.ActorID, 10)
		if e.ActorUsername != "" {
			who = "@" + e.ActorUsername
		}
		line := e.At.In(zoneOrLocal(loc)).Format("02.01 15:04") + " " + who + " " + e.Action
		if e.Target != "" {
			line += " " + e.Target
		}
		if e.Error != "" {
			line += " ❌ " + e.Error
		}
		lines = append(lines, line)
	}
	return b.Bullets(lines...).Build()
}

func zoneOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

func zoneName(loc *time.Location) string {
	return zoneOrLocal(loc).String()
}
