package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/chatstream/cmd/chatstream/ask"
	servecmder "github.com/papercomputeco/chatstream/cmd/chatstream/serve"
	versioncmder "github.com/papercomputeco/chatstream/cmd/chatstream/version"
)

const rootLongDesc string = `chatstream relays chat completions from Azure OpenAI to HTTP
clients as a plain text stream.

Run "chatstream serve" to start the server and "chatstream ask" to
talk to it from a terminal.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatstream",
		Short:         "Streaming chat completion relay",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
