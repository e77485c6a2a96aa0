package main

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/engine"
	"github.com/spf13/cobra"
)

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set PATH VALUE",
		Short: "Write a value or actuator target",
		Long: `Write VALUE to PATH. The value is parsed using the datatype the broker
reports for PATH unless --type is given. Arrays are comma separated.`,
		Args: cobra.ExactArgs(2),
		RunE: runSet,
	}
	cmd.Flags().Bool("target", false, "Write the actuator target instead of the current value")
	cmd.Flags().String("type", "", "Value datatype (uint8, float, string[], ...); default is the broker's metadata")
	return cmd
}

func runSet(cmd *cobra.Command, args []string) error {
	path, text := args[0], args[1]
	target, _ := cmd.Flags().GetBool("target")
	typeName, _ := cmd.Flags().GetString("type")

	eng, err := connect(cmd)
	if err != nil {
		return err
	}
	defer eng.Disconnect()

	ctx, cancel := requestContext(cmd)
	defer cancel()

	dataType := broker.ParseDataType(typeName)
	if strings.TrimSpace(typeName) != "" && dataType == broker.DataTypeUnspecified {
		return fmt.Errorf("unknown datatype %q", typeName)
	}
	if dataType == broker.DataTypeUnspecified {
		res, err := eng.Fetch(ctx, engine.PathRequest(path, broker.FieldMetadata))
		if err != nil {
			return err
		}
		for _, entry := range res.Response.Entries {
			if entry.Path == path && entry.Metadata != nil {
				dataType = entry.Metadata.DataType
			}
		}
	}

	dp, err := parseValue(dataType, text)
	if err != nil {
		return err
	}

	field := broker.FieldValue
	if target {
		field = broker.FieldActuatorTarget
	}
	if _, err := eng.Update(ctx, engine.PathUpdate(path, dp, field)); err != nil {
		return err
	}

	out := newOutputFormatter(cmd)
	return out.Line(map[string]any{"path": path, "field": field.String(), "value": dp.Value}, fmt.Sprintf("%s %s <- %v", path, field, dp.Value))
}

// parseValue converts text to a datapoint of dataType. Unknown types are
// sent as strings.
func parseValue(dataType broker.DataType, text string) (broker.Datapoint, error) {
	kind := dataType.ValueKind()
	dp := broker.ParseDatapoint(kind, text)
	if kind != broker.KindNotSet && kind != broker.KindString && dp.Kind != kind {
		return broker.Datapoint{}, fmt.Errorf("cannot parse %q as %s", text, kind)
	}
	return dp, nil
}
