package main

import (
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/engine"
	"github.com/spf13/cobra"
)

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH...",
		Short: "Read current values from the broker",
		Long: `Read the configured fields of one or more paths. A branch path returns
every signal below it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	eng, err := connect(cmd)
	if err != nil {
		return err
	}
	defer eng.Disconnect()

	ctx, cancel := requestContext(cmd)
	defer cancel()

	out := newOutputFormatter(cmd)
	var entries []broker.DataEntry
	for _, path := range args {
		res, err := eng.Fetch(ctx, engine.PathRequest(path))
		if err != nil {
			return err
		}
		entries = append(entries, res.Response.Entries...)
	}

	if out.jsonMode {
		views := make([]entryView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, viewEntry(entry))
		}
		return out.Print(views)
	}
	for _, entry := range entries {
		if err := out.Line(nil, formatEntry(entry)); err != nil {
			return err
		}
	}
	return nil
}
