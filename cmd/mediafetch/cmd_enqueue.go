package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/download"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/validators"
)

var (
	enqueueMask    string
	enqueueToAudio bool
	enqueueFollow  bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <url>",
	Short: "Queue a download and print its job ID",
	Long: `Queue a download request for a watch or playlist URL.

Examples:
  # Merge best video and audio
  mediafetch enqueue "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

  # Audio only, transcoded to mp3, printing progress until done
  mediafetch enqueue --mask AUDIO --to-audio --follow "https://www.youtube.com/playlist?list=PL123"
`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueMask, "mask", job.MaskAll, "Content mask: ALL, VIDEO or AUDIO")
	enqueueCmd.Flags().BoolVar(&enqueueToAudio, "to-audio", false, "Transcode finished files to mp3")
	enqueueCmd.Flags().BoolVarP(&enqueueFollow, "follow", "f", false, "Print progress until the job finishes")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if !job.ValidMask(enqueueMask) {
		return fmt.Errorf("unknown content mask %q", enqueueMask)
	}
	result := validators.DefaultRegistry().Validate(args[0])
	if !result.Valid {
		return fmt.Errorf("unsupported url: %s", result.Error)
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := download.NewService(&download.ServiceConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.QueueName,
		Logger:    log,
	}, nil)
	if err != nil {
		return err
	}
	defer svc.Stop(context.Background())

	queued, err := svc.EnqueueDownload(ctx, result.Canonical, enqueueMask, enqueueToAudio)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), queued.ID)

	if !enqueueFollow {
		return nil
	}
	return follow(ctx, cmd, svc, queued.ID)
}

// follow prints progress lines until the job reaches a terminal state
func follow(ctx context.Context, cmd *cobra.Command, svc *download.Service, jobID string) error {
	sub, err := svc.SubscribeToJob(ctx, jobID)
	if err != nil {
		return err
	}
	defer sub.Close()
	updates := sub.Channel()

	// The job may have moved on before the subscription was confirmed
	current, err := svc.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		fmt.Fprintf(out, "%s %3d%% %s\n", time.Now().Format(time.TimeOnly), current.Progress, current.Status)
		if current.IsTerminal() {
			return report(cmd, current)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("progress stream for job %s closed", jobID)
			}
			current = update
		}
	}
}

func report(cmd *cobra.Command, done *download.DownloadJob) error {
	out := cmd.OutOrStdout()
	for _, r := range done.Results {
		line := fmt.Sprintf("  %-10s %s", r.Outcome, r.Title)
		if r.Path != "" {
			line += " -> " + r.Path
		}
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	if done.Status == download.StatusFailed {
		return fmt.Errorf("job %s failed: %s", done.ID, done.Error)
	}
	fmt.Fprintf(out, "%d succeeded, %d failed in %s\n", done.Succeeded, done.Failed, job.FormatElapsed(done.Elapsed()))
	return nil
}
