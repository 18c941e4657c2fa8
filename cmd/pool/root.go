package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/replkv/cmd/util"
	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
)

var (
	managedPool *pool.Manager

	statsFormat string
	statsProbe  bool

	failoverMasters string
	failoverSlaves  string

	// PoolCommands represents the pool command group
	PoolCommands = &cobra.Command{
		Use:                "pool",
		Short:              "Inspect the connection pool",
		PersistentPreRunE:  setupPool,
		PersistentPostRunE: closePool,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print the slot arrays, host lists and counters of the pool",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	failoverCmd = &cobra.Command{
		Use:   "failover",
		Short: "Replace the host lists of the pool and report the result",
		Long: util.WrapString("Replaces the masters and slaves of a pool created from the configured hosts, " +
			"pings the new hosts through the pool and prints the resulting pool state."),
		Args: cobra.NoArgs,
		RunE: runFailover,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	PoolCommands.AddCommand(statsCmd)
	PoolCommands.AddCommand(failoverCmd)

	util.SetupClientFlags(PoolCommands)

	statsCmd.Flags().StringVar(&statsFormat, "format", "text", "Output format (text, json, yaml, prometheus)")
	statsCmd.Flags().BoolVar(&statsProbe, "probe", true, util.WrapString("Ping through the write and read pool before printing, so that the pool holds connections"))

	failoverCmd.Flags().StringVar(&failoverMasters, "to-masters", "", util.WrapString("Comma-separated list of the new read-write hosts (required)"))
	failoverCmd.Flags().StringVar(&failoverSlaves, "to-slaves", "", util.WrapString("Comma-separated list of the new read-only hosts"))
	_ = failoverCmd.MarkFlagRequired("to-masters")
}

func setupPool(cmd *cobra.Command, _ []string) error {
	var err error
	managedPool, err = util.SetupPool(cmd)
	return err
}

func closePool(_ *cobra.Command, _ []string) error {
	if managedPool == nil {
		return nil
	}
	return managedPool.Close()
}

// ping runs a PING through the write and the read pool
func ping(ctx context.Context) error {
	fn := func(c *client.Client) error {
		return c.Ping(ctx)
	}
	if err := managedPool.Exec(ctx, fn); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if err := managedPool.ExecReadOnly(ctx, fn); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	if statsProbe {
		if err := ping(cmd.Context()); err != nil {
			util.Logger.Warningf("probe failed: %v", err)
		}
	}
	return printSnapshot(statsFormat)
}

func runFailover(cmd *cobra.Command, _ []string) error {
	masters, err := endpoint.ParseList(splitHosts(failoverMasters))
	if err != nil {
		return err
	}
	slaves, err := endpoint.ParseList(splitHosts(failoverSlaves))
	if err != nil {
		return err
	}

	// connect to the old hosts first, the failover deactivates these clients
	if err := ping(cmd.Context()); err != nil {
		util.Logger.Warningf("probe of the configured hosts failed: %v", err)
	}

	managedPool.OnFailover(func(readWrite, readOnly []endpoint.Endpoint) error {
		fmt.Printf("failover to masters=%v, slaves=%v\n", readWrite, readOnly)
		return nil
	})
	if err := managedPool.FailoverTo(masters, slaves); err != nil {
		return err
	}

	if err := ping(cmd.Context()); err != nil {
		fmt.Printf("new hosts unreachable: %v\n", err)
	} else {
		fmt.Println("new hosts reachable")
	}
	return printSnapshot("text")
}

// printSnapshot writes the pool snapshot to stdout
func printSnapshot(format string) error {
	snapshot := managedPool.Snapshot()

	switch format {
	case "text":
		fmt.Print(snapshot.String())
	case "json":
		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(snapshot)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	case "prometheus":
		util.Stats.WritePrometheus(os.Stdout)
	default:
		return fmt.Errorf("invalid format %s", format)
	}
	return nil
}

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
