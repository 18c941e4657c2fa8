package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/replkv/cmd/kv"
	"github.com/ValentinKolb/replkv/cmd/lock"
	"github.com/ValentinKolb/replkv/cmd/pool"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "replkv",
		Short: "pooled client for replicated key-value stores",
		Long: fmt.Sprintf(`replkv (v%s)

A client library and command line tool for master/slave replicated
key-value stores speaking the RESP protocol. It pools connections per
role, follows failovers and offers pipelines, transactions and locks.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of replkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("replkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(pool.PoolCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
// An interrupt cancels the context of the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
