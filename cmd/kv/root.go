package kv

import (
	"github.com/ValentinKolb/replkv/cmd/util"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/spf13/cobra"
)

var (
	kvPool *pool.Manager

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  setupKVPool,
		PersistentPostRunE: closeKVPool,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(mgetCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(msetCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVPool creates the pool used by all kv commands
func setupKVPool(cmd *cobra.Command, _ []string) error {
	var err error
	kvPool, err = util.SetupPool(cmd)
	return err
}

func closeKVPool(_ *cobra.Command, _ []string) error {
	if kvPool == nil {
		return nil
	}
	return kvPool.Close()
}
