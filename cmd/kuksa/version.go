package main

import (
	"fmt"

	kuksaversion "github.com/nupi-ai/kuksa/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and broker versions",
		RunE:  runVersion,
	}
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := kuksaversion.String()

	var brokerName, brokerVersion string
	var brokerErr error
	eng, err := connect(cmd)
	if err == nil {
		defer eng.Disconnect()
		ctx, cancel := requestContext(cmd)
		defer cancel()
		info, infoErr := eng.Connection().ServerInfo(ctx)
		if infoErr == nil {
			brokerName, brokerVersion = info.Name, info.Version
		} else {
			brokerErr = infoErr
		}
	} else {
		brokerErr = err
	}
	warning := kuksaversion.CheckMockMismatch(brokerName, brokerVersion)

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if brokerErr == nil {
			data["broker"] = map[string]string{"name": brokerName, "version": brokerVersion}
			if warning != "" {
				data["mismatch"] = true
				data["warning"] = warning
			}
		} else {
			data["broker"] = nil
			data["broker_error"] = brokerErr.Error()
		}
		return out.Print(data)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Client: %s\n", kuksaversion.FormatVersion(clientVersion))
	if brokerErr != nil {
		fmt.Fprintf(w, "Broker: unavailable (%v)\n", brokerErr)
		return nil
	}
	fmt.Fprintf(w, "Broker: %s %s\n", brokerName, kuksaversion.FormatVersion(brokerVersion))
	if warning != "" {
		fmt.Fprintln(w, warning)
	}
	return nil
}
