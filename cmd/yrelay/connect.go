package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/yrelay/pkg/client"
	"github.com/vango-dev/yrelay/pkg/document/memdoc"
)

type connectOptions struct {
	url     string
	room    string
	replica uint64
	edits   []string
	timeout time.Duration
}

func connectCmd() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect <room>",
		Short: "Join a room, sync, and print its document",
		Long: `Join a room with an in-memory document, wait for the initial sync,
optionally contribute edits, and print every operation held.

An empty room never completes the initial sync; the command then reports
the room as empty once --timeout elapses.

Examples:
  yrelay connect notes
  yrelay connect notes --edit "hello" --edit "world"
  yrelay connect notes --url ws://relay.internal:1234 --replica 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.room = args[0]
			return runConnect(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", "ws://localhost:1234", "Relay base URL")
	cmd.Flags().Uint64Var(&opts.replica, "replica", uint64(time.Now().UnixNano()), "Replica id for local edits")
	cmd.Flags().StringArrayVarP(&opts.edits, "edit", "e", nil, "Payload of a local edit (repeatable)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 3*time.Second, "How long to wait for the initial sync")

	return cmd
}

func runConnect(ctx context.Context, opts connectOptions, out io.Writer) error {
	doc := memdoc.New(opts.replica)

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	c, err := client.Dial(dialCtx, opts.url, opts.room, doc,
		client.WithLogger(slog.Default()),
		client.WithHandler(client.HandlerFuncs{
			Error: func(err error) {
				slog.Warn("relay error", "error", err)
			},
		}),
	)
	if err != nil {
		return err
	}
	defer c.Close()
	slog.Debug("connected", "room", c.Room(), "replica", doc.Replica())

	synced := true
	if err := c.WaitForSync(dialCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		synced = false
	}

	for _, e := range opts.edits {
		update, err := doc.Edit([]byte(e))
		if err != nil {
			return err
		}
		if err := c.SendUpdate(update); err != nil {
			return err
		}
	}

	if !synced && len(opts.edits) == 0 {
		fmt.Fprintf(out, "room %q is empty\n", opts.room)
		return nil
	}
	for _, op := range doc.Ops() {
		fmt.Fprintf(out, "%d:%d\t%s\n", op.Replica, op.Clock, op.Payload)
	}
	return nil
}
