package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/peercall/internal/infra/redis"
	"github.com/vietddude/peercall/internal/infra/storage/postgres"
)

var peerPosition int

var routingCmd = &cobra.Command{
	Use:   "routing",
	Short: "Manage dynamic routing records in Redis",
}

var routingSetCmd = &cobra.Command{
	Use:   "set <target> <field=value>...",
	Short: "Replace the routing record of a target",
	Long: `Replace the routing record read by dynamic calls to a target.

Fields are strategy, sticky, resolver and peers; peers is a comma separated
list. The record is validated before it is written.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRoutingSet,
}

var routingDeleteCmd = &cobra.Command{
	Use:   "delete <target>",
	Short: "Remove the routing record of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutingDelete,
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Manage stored peer sets",
	Long: `Manage the peer sets behind resolver references. A "redis:" or
"postgres:" prefix picks the store; other names use Redis when it is
configured, then PostgreSQL.`,
}

var peersAddCmd = &cobra.Command{
	Use:   "add <resolver> <peer>",
	Short: "Add a peer to a set or move it to a new position",
	Args:  cobra.ExactArgs(2),
	RunE:  runPeersAdd,
}

var peersRemoveCmd = &cobra.Command{
	Use:   "remove <resolver> <peer>",
	Short: "Remove a peer from a set",
	Args:  cobra.ExactArgs(2),
	RunE:  runPeersRemove,
}

var peersListCmd = &cobra.Command{
	Use:   "list [resolver]",
	Short: "List the peers of a set, or the sets stored in PostgreSQL",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPeersList,
}

func init() {
	peersAddCmd.Flags().IntVar(&peerPosition, "position", 0, "position of the peer within the set")

	routingCmd.AddCommand(routingSetCmd, routingDeleteCmd)
	peersCmd.AddCommand(peersAddCmd, peersRemoveCmd, peersListCmd)
	rootCmd.AddCommand(routingCmd, peersCmd)
}

// peerSet edits the members of one stored peer set.
type peerSet interface {
	Add(ctx context.Context, peer string, position int) error
	Remove(ctx context.Context, peer string) error
	Resolve(ctx context.Context) ([]string, error)
}

type redisPeerSet struct {
	client *redisclient.Client
	name   string
}

func (s redisPeerSet) Add(ctx context.Context, peer string, position int) error {
	return s.client.AddPeer(ctx, s.name, peer, float64(position))
}

func (s redisPeerSet) Remove(ctx context.Context, peer string) error {
	return s.client.RemovePeer(ctx, s.name, peer)
}

func (s redisPeerSet) Resolve(ctx context.Context) ([]string, error) {
	return s.client.Resolver(s.name).Resolve(ctx)
}

type postgresPeerSet struct {
	db   *postgres.DB
	name string
}

func (s postgresPeerSet) Add(ctx context.Context, peer string, position int) error {
	return s.db.UpsertPeer(ctx, postgres.PeerRow{Resolver: s.name, Peer: peer, Position: position})
}

func (s postgresPeerSet) Remove(ctx context.Context, peer string) error {
	return s.db.DeletePeer(ctx, s.name, peer)
}

func (s postgresPeerSet) Resolve(ctx context.Context) ([]string, error) {
	return s.db.Resolver(s.name).Resolve(ctx)
}

// peerSet returns the stored set behind the reference name.
func (rt *runtime) peerSet(name string) (peerSet, error) {
	backend, set, err := rt.backend(name)
	if err != nil {
		return nil, err
	}
	if backend == backendRedis {
		return redisPeerSet{client: rt.redis, name: set}, nil
	}
	return postgresPeerSet{db: rt.db, name: set}, nil
}

// adminRuntime loads the config and connects to the configured stores.
func adminRuntime(cmd *cobra.Command) (context.Context, *runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return ctx, rt, nil
}

func runRoutingSet(cmd *cobra.Command, args []string) error {
	fields, err := parseFields(args[1:])
	if err != nil {
		return err
	}
	ctx, rt, err := adminRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.redis == nil {
		return errors.New("routing records need redis to be configured")
	}
	if err := rt.redis.SetRouting(ctx, args[0], fields); err != nil {
		return err
	}
	slog.Info("Routing record updated", "target", args[0], "fields", len(fields))
	return nil
}

func runRoutingDelete(cmd *cobra.Command, args []string) error {
	ctx, rt, err := adminRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.redis == nil {
		return errors.New("routing records need redis to be configured")
	}
	if err := rt.redis.DeleteRouting(ctx, args[0]); err != nil {
		return err
	}
	slog.Info("Routing record deleted", "target", args[0])
	return nil
}

func runPeersAdd(cmd *cobra.Command, args []string) error {
	ctx, rt, err := adminRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	set, err := rt.peerSet(args[0])
	if err != nil {
		return err
	}
	if err := set.Add(ctx, args[1], peerPosition); err != nil {
		return err
	}
	slog.Info("Peer added", "resolver", args[0], "peer", args[1], "position", peerPosition)
	return nil
}

func runPeersRemove(cmd *cobra.Command, args []string) error {
	ctx, rt, err := adminRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	set, err := rt.peerSet(args[0])
	if err != nil {
		return err
	}
	if err := set.Remove(ctx, args[1]); err != nil {
		return err
	}
	slog.Info("Peer removed", "resolver", args[0], "peer", args[1])
	return nil
}

func runPeersList(cmd *cobra.Command, args []string) error {
	ctx, rt, err := adminRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	var lines []string
	if len(args) == 0 {
		if rt.db == nil {
			return errors.New("listing peer sets needs a database; name a resolver instead")
		}
		lines, err = rt.db.ResolverNames(ctx)
	} else {
		var set peerSet
		if set, err = rt.peerSet(args[0]); err == nil {
			lines, err = set.Resolve(ctx)
		}
	}
	if err != nil {
		return err
	}
	printLines(cmd.OutOrStdout(), lines)
	return nil
}

// parseFields parses field=value arguments. Later fields replace earlier
// ones with the same name.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, want field=value", arg)
		}
		fields[k] = strings.TrimSpace(v)
	}
	return fields, nil
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
