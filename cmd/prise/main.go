// Command prise is the scriptable terminal multiplexer server and its
// reference attach client (spec.md §0 CLI, mirroring cmd/wt/cmd/wtd's
// cobra root + subcommand layout).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "prise",
		Short: "prise — scriptable terminal multiplexer",
		Long:  "A background server that owns PTYs and drives layout/input-routing through a user-supplied script. Clients attach over a local socket.",
	}
	root.PersistentFlags().String("config", "", "path to prise.yaml (default: $HOME/.config/prise/prise.yaml)")

	serve := serveCmd()
	attach := attachCmd()
	root.AddCommand(serve, attach)
	// No subcommand given: behave like `prise serve`.
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "prise:", err)
		os.Exit(1)
	}
}
