// Command proxyvet runs the proxy checking service and its batch mode.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is injected at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "proxyvet",
	Short: "Proxy fleet checker with a scheduling core and HTTP control plane",
	Long: `proxyvet keeps a fleet of forward proxies under continuous observation.

Proxies and check definitions (target URL, accepted statuses, XPath
assertions) live in a registry; a scheduler re-probes each proxy on its own
cadence and every probe outcome is recorded, so the control plane can always
answer "which proxies are alive right now and where are they banned".`,
	Version:      version,
	SilenceUsage: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}
