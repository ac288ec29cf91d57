package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/querystore"
)

const pendingUpdates = 64

type watchOptions struct {
	params     []string
	live       bool
	duration   time.Duration
	maxResults int
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <query>",
		Short: "Subscribe to a query and print every snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), root, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "query parameter as name=value, value parsed as JSON when possible")
	cmd.Flags().BoolVar(&opts.live, "live", false, "enable live mode and refetch drafts on every mutation")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "stop after this long (0 waits for an interrupt)")
	cmd.Flags().IntVar(&opts.maxResults, "max-results", 0, "stop after this many settled snapshots (0 means no limit)")

	return cmd
}

// runWatch commits every store update on this goroutine, the way a UI thread would.
func runWatch(ctx context.Context, root *rootOptions, opts watchOptions, query string, stdout, stderr io.Writer) error {
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	updates := make(chan func(), pendingUpdates)
	done := make(chan struct{})
	scheduler := func(update func()) {
		select {
		case updates <- update:
		case <-done:
		}
	}

	a, err := newApp(ctx, root, stderr, querystore.WithScheduler(scheduler))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	defer close(done)

	if opts.live {
		disable := a.store.EnableLiveMode(a.client.Config().StudioOrigin())
		defer disable()
	}

	liveMode := a.queries.UseLiveMode(querystore.LiveModeOptions{
		OnChange: func(state loader.LiveModeState) { printLiveMode(stdout, state) },
	})
	defer liveMode.Close()
	printLiveMode(stdout, liveMode.Render())

	settled := 0
	binding := querystore.UseQuery[any](a.queries, query, params, querystore.UseQueryOptions[any]{
		OnChange: func(snapshot loader.Snapshot[any]) {
			printSnapshot(stdout, snapshot)
			if !snapshot.Loading {
				settled++
			}
		},
	})
	defer binding.Close()
	printSnapshot(stdout, binding.Snapshot())

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for opts.maxResults <= 0 || settled < opts.maxResults {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case update := <-updates:
			update()
		}
	}

	return nil
}

func printSnapshot(w io.Writer, snapshot loader.Snapshot[any]) {
	switch {
	case snapshot.Loading:
		_, _ = fmt.Fprintln(w, "loading")
	case snapshot.Error != nil:
		_, _ = fmt.Fprintf(w, "error: %v\n", snapshot.Error)
	default:
		data, err := prettyJSON.MarshalToString(snapshot.Data)
		if err != nil {
			_, _ = fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		_, _ = fmt.Fprintf(w, "data: %s\n", data)
	}
}

func printLiveMode(w io.Writer, state loader.LiveModeState) {
	_, _ = fmt.Fprintf(w, "live mode: enabled=%t connected=%t studio=%q\n", state.Enabled, state.Connected, state.StudioOrigin)
}
