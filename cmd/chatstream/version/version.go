package versioncmder

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time with
// -ldflags "-X github.com/papercomputeco/chatstream/cmd/chatstream/version.Version=v1.2.3".
var Version = ""

const versionShortDesc string = "Print the chatstream version"

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: versionShortDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "chatstream %s (%s)\n", resolve(), runtime.Version())
			return nil
		},
	}
}

// resolve prefers the linked version, then the module version recorded by go
// install.
func resolve() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
