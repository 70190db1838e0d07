package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/orchestrator"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/server"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
)

type runFlags struct {
	stream bool
	json   bool
}

func newRunCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run <query...>",
		Short: "Run one research query and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			return runQuery(cmd.Context(), svc, strings.Join(args, " "), rf, out, cmd.ErrOrStderr(), isTerminal(out))
		},
	}
	cmd.Flags().BoolVar(&rf.stream, "stream", false, "print the report as it is written")
	cmd.Flags().BoolVar(&rf.json, "json", false, "print the full result as JSON")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runQuery executes query against svc. Progress goes to errOut when it is
// a terminal session; the report or JSON result goes to out.
func runQuery(ctx context.Context, svc *server.Service, query string, rf runFlags, out, errOut io.Writer, tty bool) error {
	opts := orchestrator.RunOptions{}
	streamed := rf.stream && !rf.json
	if streamed {
		opts.OnReportChunk = func(chunk string) error {
			_, err := io.WriteString(out, chunk)
			return err
		}
	}

	sess, err := svc.Orchestrator.CreateSession(ctx, query)
	if err != nil {
		return err
	}
	var stopProgress func()
	if tty && !rf.json {
		stopProgress = followProgress(svc.Events, sess.ID, errOut)
	}
	result, err := svc.Orchestrator.RunSession(ctx, sess, opts)
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		return err
	}

	if rf.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if streamed {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, result.FinalReport)
	}
	if tty {
		fmt.Fprintln(errOut, summaryLine(result))
	}
	return nil
}

// followProgress prints phase and step events of one session until the
// returned function is called.
func followProgress(events *streaming.Manager, sessionID string, w io.Writer) func() {
	ch := events.Subscribe(sessionID, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			if line := progressLine(evt); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()
	return func() {
		events.Unsubscribe(sessionID, ch)
		<-done
	}
}

func progressLine(evt streaming.Event) string {
	switch evt.Type {
	case streaming.EventPhase:
		return "» " + evt.Message
	case streaming.EventStepStarted:
		return fmt.Sprintf("  step %s: %s", evt.StepID, evt.Message)
	case streaming.EventStepCompleted:
		return fmt.Sprintf("  step %s done", evt.StepID)
	case streaming.EventStepFailed:
		return fmt.Sprintf("  step %s failed: %s", evt.StepID, evt.Message)
	case streaming.EventPolicy:
		return "  policy: " + evt.Message
	default:
		return ""
	}
}

func summaryLine(r *models.OrchestrationResult) string {
	line := fmt.Sprintf("[%s] %d/%d steps, %d tokens, %.1fs, session %s",
		r.Status, r.Metadata.StepsCompleted, r.Metadata.StepsTotal,
		r.Metadata.TokensUsed, float64(r.Metadata.TotalTimeMs)/1000, r.SessionID)
	if r.Metadata.BestEffort {
		line += " (best effort)"
	}
	return line
}
