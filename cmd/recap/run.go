package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recap/internal/orchestrator"
	"recap/internal/recording"
)

func runCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "run <media-file | recording-id>",
		Short: "Process a recording into a work item",
		Long: `Run takes a finished recording through upload, transcription, and
summarization, then drives the tool-calling loop to produce a work item.
Stages that already ran are skipped, so rerunning a recording that
failed partway picks up where it stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := resolveRecording(a, args[0], title)
			if err != nil {
				return err
			}

			a.connect(ctx)

			r := newRenderer(a.broadcaster, a.gate)
			defer r.Stop()

			result, err := a.pipeline.Process(ctx, rec, "")
			if err != nil {
				return err
			}
			reportOutcome(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title for a newly imported recording")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <recording-id | run-id>",
		Short: "Rerun work item creation for an already prepared recording",
		Long: `Retry starts a fresh tool-calling run from the stored transcript and
summary of a recording that already completed its preparation stages.
The id may be the recording's own id or the id of a previous run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.connect(ctx)

			r := newRenderer(a.broadcaster, a.gate)
			defer r.Stop()

			result, err := a.pipeline.Retry(ctx, args[0], "")
			if err != nil {
				return err
			}
			reportOutcome(result)
			return nil
		},
	}
}

func recordingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recordings",
		Short: "List stored recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := recording.NewStore(cfg.DataDir)
			if err != nil {
				return err
			}
			recs, err := store.List()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("no recordings stored")
				return nil
			}
			for _, rec := range recs {
				fmt.Printf("%s  %s  %s  %s\n",
					rec.ID,
					rec.CapturedAt.Format(time.DateTime),
					stageOf(rec),
					rec.Title)
			}
			return nil
		},
	}
}

// stageOf names the furthest pipeline stage a recording has reached.
func stageOf(rec *recording.Recording) string {
	switch {
	case rec.RunID != "":
		return "processed"
	case rec.Summary != "":
		return "summarized"
	case rec.Transcribed():
		return "transcribed"
	case rec.Uploaded():
		return "uploaded"
	default:
		return "captured"
	}
}

// resolveRecording loads a stored recording by id, or imports a local
// media file as a new one.
func resolveRecording(a *app, arg, title string) (*recording.Recording, error) {
	if a.store.Exists(arg) {
		return a.store.Load(arg)
	}

	if _, err := os.Stat(arg); err == nil {
		rec, err := recording.FromFile(arg)
		if err != nil {
			return nil, err
		}
		if title != "" {
			rec.Title = title
		}
		if err := a.store.Save(rec); err != nil {
			return nil, err
		}
		fmt.Printf("imported %s as recording %s\n", filepath.Base(rec.Path), rec.ID)
		return rec, nil
	}

	return nil, fmt.Errorf("%s is neither a stored recording id nor a media file", arg)
}

// reportOutcome prints a closing line for outcomes the event stream
// does not already make obvious.
func reportOutcome(result *orchestrator.Result) {
	if result != nil && result.Outcome == orchestrator.OutcomeStepBudget {
		fmt.Fprintf(os.Stderr, "run %s stopped at the step budget before finishing\n", result.RunID)
	}
}
