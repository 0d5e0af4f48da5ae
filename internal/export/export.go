// Package export renders the delivery log as CSV reports for operators:
// semicolon separated, UTF-8 with BOM, Russian headers, so the file opens
// as-is in spreadsheet software configured for a Russian locale.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"drillbot/internal/training"
	logx "drillbot/pkg/logx"
)

var ErrNoData = errors.New("nothing to export")

const bom = "\ufeff"

var (
	allHeader = []string{
		"№", "ID пользователя", "Ник Telegram", "Имя", "№ сообщения", "Текст сообщения",
		"Дата отправки", "Время отправки", "Ответ пользователя", "Дата ответа", "Время ответа",
		"Время реакции (сек)", "Время реакции",
	}
	participantHeader = []string{
		"№ сообщения", "Текст сообщения", "Дата отправки", "Время отправки",
		"Ответ пользователя", "Дата ответа", "Время ответа", "Время реакции (сек)", "Время реакции",
	}
)

type Source interface {
	Deliveries(ctx context.Context) ([]training.DeliveryLogEntry, error)
	Participants(ctx context.Context) ([]training.Participant, error)
}

// Report is a rendered CSV file.
type Report struct {
	FileName string
	Rows     int
	Data     []byte
}

type Exporter struct {
	src Source
	loc *time.Location
	// dir, when set, receives a copy of every report.
	dir string
	log logx.Logger
}

func New(src Source, loc *time.Location, dir string, log logx.Logger) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exporter{src: src, loc: loc, dir: strings.TrimSpace(dir), log: log.With(logx.String("comp", "export"))}
}

// All renders every delivery, oldest first.
func (x *Exporter) All(ctx context.Context, now time.Time) (Report, error) {
	entries, err := x.src.Deliveries(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("deliveries: %w", err)
	}
	if len(entries) == 0 {
		return Report{}, ErrNoData
	}
	people, err := x.participants(ctx)
	if err != nil {
		return Report{}, err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		p := people[e.ParticipantID]
		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.ParticipantID, 10),
			atUsername(p.Username),
			p.DisplayName,
		}
		rows = append(rows, append(row, x.entryCols(e)...))
	}
	name := fmt.Sprintf("training_results_%s.csv", now.In(x.loc).Format("20060102_150405"))
	return x.finish(name, allHeader, rows)
}

// Participant renders one participant's deliveries.
func (x *Exporter) Participant(ctx context.Context, id int64, now time.Time) (Report, error) {
	entries, err := x.src.Deliveries(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("deliveries: %w", err)
	}
	var rows [][]string
	for _, e := range entries {
		if e.ParticipantID == id {
			rows = append(rows, x.entryCols(e))
		}
	}
	if len(rows) == 0 {
		return Report{}, ErrNoData
	}
	people, err := x.participants(ctx)
	if err != nil {
		return Report{}, err
	}
	label := strconv.FormatInt(id, 10)
	if u := strings.TrimPrefix(people[id].Username, "@"); u != "" {
		label = u
	}
	name := fmt.Sprintf("user_%s_%s.csv", label, now.In(x.loc).Format("20060102_150405"))
	return x.finish(name, participantHeader, rows)
}

func (x *Exporter) participants(ctx context.Context) (map[int64]training.Participant, error) {
	list, err := x.src.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	out := make(map[int64]training.Participant, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// entryCols are the columns shared by both report kinds.
func (x *Exporter) entryCols(e training.DeliveryLogEntry) []string {
	sentDate, sentTime := x.dateTime(&e.SentAt)
	ansDate, ansTime := x.dateTime(e.AnsweredAt)
	var answer, secs, human string
	if e.AnswerText != nil {
		answer = *e.AnswerText
	}
	if e.ResponseTimeSeconds != nil {
		secs = strconv.FormatInt(*e.ResponseTimeSeconds, 10)
		human = training.FormatLatency(*e.ResponseTimeSeconds)
	}
	return []string{
		strconv.Itoa(e.ScenarioIndex),
		e.MessageText,
		sentDate, sentTime,
		answer,
		ansDate, ansTime,
		secs, human,
	}
}

func (x *Exporter) dateTime(t *time.Time) (string, string) {
	if t == nil || t.IsZero() {
		return "", ""
	}
	lt := t.In(x.loc)
	return lt.Format("02.01.2006"), lt.Format("15:04")
}

func (x *Exporter) finish(name string, header []string, rows [][]string) (Report, error) {
	var buf bytes.Buffer
	buf.WriteString(bom)
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	w.UseCRLF = true
	if err := w.Write(header); err != nil {
		return Report{}, err
	}
	if err := w.WriteAll(rows); err != nil {
		return Report{}, err
	}
	rep := Report{FileName: name, Rows: len(rows), Data: buf.Bytes()}

	if x.dir != "" {
		if err := x.save(rep); err != nil {
			// The report is still usable in memory.
			x.log.Warn("export copy not saved", logx.String("dir", x.dir), logx.Err(err))
		}
	}
	x.log.Info("report rendered", logx.String("file", name), logx.Int("rows", rep.Rows))
	return rep, nil
}

func (x *Exporter) save(rep Report) error {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(x.dir, rep.FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, rep.Data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func atUsername(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.HasPrefix(u, "@") {
		return u
	}
	return "@" + u
}
