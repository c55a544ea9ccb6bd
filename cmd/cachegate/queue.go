package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/retryqueue"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the retry queue",
	}
	cmd.AddCommand(newQueueListCmd(a), newQueueDrainCmd(a))
	return cmd
}

func newQueueListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, err := a.cfg.OpenBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			q, err := a.openQueue(backend)
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Load(ctx); err != nil {
				return err
			}

			items := q.Items()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Retry queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMETHOD\tURL\tENQUEUED\tATTEMPTS")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					it.ID, it.Method, it.URL, it.EnqueuedAt.Format(time.RFC3339), it.Attempts)
			}
			return tw.Flush()
		},
	}
}

func newQueueDrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one redrive pass against the origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, err := a.cfg.OpenBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			q, err := a.openQueue(backend)
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Load(ctx); err != nil {
				return err
			}

			res, err := q.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d requeued=%d dropped=%d remaining=%d\n",
				res.Delivered, res.Requeued, res.Dropped, q.Len())
			return nil
		},
	}
}

// openQueue builds a standalone queue that delivers with a fresh fetcher.
func (a *app) openQueue(backend storage.Backend) (*retryqueue.Queue, error) {
	fetcher, err := fetch.New(a.cfg.FetchConfig())
	if err != nil {
		return nil, err
	}
	return retryqueue.New(retryqueue.Options{
		Backend: backend,
		Sender:  fetcher,
		Config:  a.cfg.QueueConfig(),
	})
}
