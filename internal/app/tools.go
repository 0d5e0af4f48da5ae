package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"drillbot/internal/config"
	"drillbot/internal/export"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	"drillbot/internal/transport/telegram"
	logx "drillbot/pkg/logx"
)

var errOffline = errors.New("delivery is disabled in offline mode")

type offlineGateway struct{}

func (offlineGateway) Send(context.Context, int64, string) error { return errOffline }

// Tools opens the database and the trainer without polling Telegram, for
// one-shot CLI commands that may run next to a live bot.
type Tools struct {
	Config   *config.Config
	Store    *storage.Store
	Trainer  *training.Trainer
	Exporter *export.Exporter

	log logx.Logger
}

func OpenTools(cfgPath string, log logx.Logger) (*Tools, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	rs, err := mapRuntime(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	trainer := training.NewTrainer(store, offlineGateway{}, training.Options{
		Window:   rs.Window,
		Delivery: rs.Delivery,
	}, log)
	return &Tools{
		Config:   cfg,
		Store:    store,
		Trainer:  trainer,
		Exporter: export.New(store, rs.Window.Loc, cfg.Export.Dir, log),
		log:      log.With(logx.String("comp", "tools")),
	}, nil
}

func (t *Tools) Close() error { return t.Store.Close() }

// SendToOwners uploads rep to every configured owner.
func (t *Tools) SendToOwners(ctx context.Context, rep export.Report, caption string) error {
	if len(t.Config.Telegram.OwnerUserIDs) == 0 {
		return errors.New("telegram.owner_user_ids is empty")
	}
	ad, err := telegram.NewOffline(telegram.Config{Token: t.Config.Telegram.Token}, t.log)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range t.Config.Telegram.OwnerUserIDs {
		err := ad.SendDocument(ctx, kit.ChatTarget{ChatID: id}, kit.Document{
			FileName: rep.FileName,
			Caption:  caption,
			Body:     bytes.NewReader(rep.Data),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("owner %d: %w", id, err))
			continue
		}
		t.log.Info("report sent", logx.Int64("owner_id", id), logx.String("file", rep.FileName))
	}
	return errors.Join(errs...)
}
