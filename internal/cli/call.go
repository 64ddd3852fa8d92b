package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
)

var (
	callDynamic bool
	callContext string
)

var callCmd = &cobra.Command{
	Use:   "call <target> <operation> [args...]",
	Short: "Call an operation on a peer of a configured target",
	Long: `Call an operation on a peer of a configured target.

Each argument is decoded as JSON; arguments that are not valid JSON are sent
as strings.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().BoolVar(&callDynamic, "dynamic", false, "read the target's routing from the routing store")
	callCmd.Flags().StringVar(&callContext, "context", "", "selection context id (default: a new context)")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target, ok := cfg.Target(args[0])
	if !ok {
		return fmt.Errorf("unknown target %q", args[0])
	}
	operation := args[1]
	callArgs := parseArgs(args[2:])

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if callContext != "" {
		ctx = routing.WithSelectionID(ctx, callContext)
	} else {
		ctx = routing.WithSelectionContext(ctx)
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
		rt.selector.Release(ctx)
	}()

	var value any
	if callDynamic {
		value, err = rt.engine.ExecuteDynamic(ctx, target, operation, callArgs).Unwrap()
	} else {
		value, err = rt.engine.Execute(ctx, target, operation, callArgs)
	}
	if err != nil {
		var rerr *rpcerr.Error
		if errors.As(err, &rerr) {
			slog.Error("Call failed", "target", target.Target, "operation", operation, "kind", rerr.Kind, "error", rerr)
		} else {
			slog.Error("Call failed", "target", target.Target, "operation", operation, "error", err)
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args[i] = v
	}
	return args
}
