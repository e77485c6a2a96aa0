package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/databroker"
	"github.com/nupi-ai/kuksa/internal/engine"
	"github.com/spf13/cobra"
)

var errConnectionLost = errors.New("connection to broker lost")

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe PATH...",
		Short: "Stream changes of one or more paths",
		Long: `Print every batch of changes the broker reports for the given paths until
interrupted. The current value is printed first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSubscribe,
	}
	cmd.Flags().Int("count", 0, "Exit after this many batches (0 streams until interrupted)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("count")

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	cmd.SetContext(ctx)

	eng, err := connect(cmd)
	if err != nil {
		return err
	}
	defer eng.Disconnect()

	out := newOutputFormatter(cmd)
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	var mu sync.Mutex
	batches := 0
	l := &databroker.ListenerFuncs{
		Entry: func(updates []broker.EntryUpdate) {
			mu.Lock()
			defer mu.Unlock()
			if limit > 0 && batches >= limit {
				return
			}
			for _, update := range updates {
				if err := out.Line(viewEntry(update.Entry), formatEntry(update.Entry)); err != nil {
					finish(err)
					return
				}
			}
			batches++
			if limit > 0 && batches >= limit {
				finish(nil)
			}
		},
		Err:        func(err error) { finish(err) },
		Disconnect: func() { finish(errConnectionLost) },
	}
	eng.RegisterDisconnectListener(l)

	requests := make([]engine.Request, 0, len(args))
	for _, path := range args {
		req := engine.PathRequest(path)
		if err := eng.Subscribe(req, l); err != nil {
			return fmt.Errorf("subscribe %s: %w", path, err)
		}
		requests = append(requests, req)
	}
	defer func() {
		for _, req := range requests {
			_ = eng.Unsubscribe(req, l)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
