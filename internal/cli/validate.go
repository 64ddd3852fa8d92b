package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/peercall/internal/core/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and list its targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printTargets(cmd.OutOrStdout(), cfg.Targets)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func printTargets(out io.Writer, targets []config.Configuration) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tSTRATEGY\tSTICKY\tTIMEOUT\tRETRY\tPEERS\tOPERATIONS")
	for _, t := range targets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%s\t%d\n",
			t.Target,
			t.Routing.Strategy,
			t.Routing.Sticky,
			formatTimeout(t),
			t.RetryBudget,
			formatPeers(t.Routing.Peers),
			len(t.Operations),
		)
	}
	_ = w.Flush()
}

func formatTimeout(t config.Configuration) string {
	if !t.HasTimeout() {
		return config.Infinite
	}
	return t.Timeout.String()
}

func formatPeers(src config.PeerSource) string {
	switch {
	case src.IsResolver():
		return "resolver:" + src.Resolver
	case src.IsZero():
		return "dynamic"
	default:
		return strings.Join(src.Static, ",")
	}
}
