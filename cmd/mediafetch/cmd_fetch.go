package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

var (
	fetchMask    string
	fetchToAudio bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a URL in this process without the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchMask, "mask", job.MaskAll, "Content mask: ALL, VIDEO or AUDIO")
	fetchCmd.Flags().BoolVar(&fetchToAudio, "to-audio", false, "Transcode finished files to mp3")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	if !job.ValidMask(fetchMask) {
		return fmt.Errorf("unknown content mask %q", fetchMask)
	}

	ctx, stop := signalContext()
	defer stop()

	stack, err := buildStack(ctx, nil, metrics.Default())
	if err != nil {
		return err
	}

	sel := job.ParseMask(fetchMask)
	sel.ConvertToAudio = fetchToAudio

	out, err := stack.runner.RunSelection(ctx, uuid.NewString(), args[0], sel, nil)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, res := range out.Results {
		switch {
		case res.Failed():
			fmt.Fprintf(w, "failed  %s: %v\n", res.Title, res.Err)
		case res.Empty():
			fmt.Fprintf(w, "empty   %s\n", res.Title)
		default:
			fmt.Fprintf(w, "%-7s %s\n", res.Outcome(), res.Path)
		}
	}
	if out.Failed > 0 && out.Succeeded == 0 {
		return fmt.Errorf("all %d items failed", out.Failed)
	}
	return nil
}
