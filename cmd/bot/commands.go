package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"drillbot/internal/app"
	"drillbot/internal/export"
	"drillbot/internal/training"
	logx "drillbot/pkg/logx"
	"drillbot/pkg/systemd"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfgPath)
		},
	}
}

func serve(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = systemd.Ready()

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func openTools(cfgPath string) (*app.Tools, error) {
	return app.OpenTools(cfgPath, logx.NewConsole("WARN"))
}

func newExportCmd(cfgPath *string) *cobra.Command {
	var (
		participant int64
		out         string
		send        bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the delivery log as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := openTools(*cfgPath)
			if err != nil {
				return err
			}
			defer t.Close()

			ctx := cmd.Context()
			now := time.Now()
			var rep export.Report
			if participant != 0 {
				rep, err = t.Exporter.Participant(ctx, participant, now)
			} else {
				rep, err = t.Exporter.All(ctx, now)
			}
			if errors.Is(err, export.ErrNoData) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to export")
				return nil
			}
			if err != nil {
				return err
			}

			path := out
			if path == "" {
				path = rep.FileName
			} else if st, err := os.Stat(path); err == nil && st.IsDir() {
				path = filepath.Join(path, rep.FileName)
			}
			if err := os.WriteFile(path, rep.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", path, rep.Rows)

			if send {
				return t.SendToOwners(ctx, rep, fmt.Sprintf("📊 Результаты тренировки: %d записей", rep.Rows))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&participant, "participant", 0, "export only this participant id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default: generated name in cwd)")
	cmd.Flags().BoolVar(&send, "send", false, "also send the file to the configured owners")
	return cmd
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print training progress and per-participant statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := openTools(*cfgPath)
			if err != nil {
				return err
			}
			defer t.Close()

			ctx := cmd.Context()
			st, err := t.Trainer.Status(ctx)
			if err != nil {
				return err
			}
			all, err := t.Trainer.Stats(ctx)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), st, all)
		},
	}
}

func printStats(w io.Writer, st training.Status, all training.OverallStats) error {
	fmt.Fprintf(w, "progress: %d/%d (%d%%), next #%d, completed=%v\n", min(st.Cursor-1, st.Total), st.Total, st.ProgressPercent, st.Cursor, st.Completed)
	fmt.Fprintf(w, "participants: %d (active %d)\n", all.Participants, all.Active)
	fmt.Fprintf(w, "sent: %d, answered: %d (%d%%), avg latency: %s\n\n", all.Sent, all.Answered, all.AnswerRate(), training.FormatLatency(all.Latency.Avg))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tACTIVE\tRECEIVED\tANSWERED\tRATE\tAVG\tMIN\tMAX")
	for _, ps := range all.PerParticipant {
		fmt.Fprintf(tw, "%d\t%s\t%v\t%d\t%d\t%d%%\t%s\t%s\t%s\n",
			ps.Participant.ID, ps.Participant.Username, ps.Participant.Active,
			ps.Received, ps.Answered, ps.AnswerRate(),
			training.FormatLatency(ps.Latency.Avg), training.FormatLatency(ps.Latency.Min), training.FormatLatency(ps.Latency.Max))
	}
	return tw.Flush()
}

func newResetCmd(cfgPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all deliveries and deactivate every participant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes all answers; pass --yes to confirm")
			}
			t, err := openTools(*cfgPath)
			if err != nil {
				return err
			}
			defer t.Close()
			if err := t.Trainer.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "training reset; next delivery starts at #1")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
