package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/replkv/cmd/util"
	"github.com/ValentinKolb/replkv/lib/lockmgr"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/spf13/cobra"
)

var (
	lockPool       *pool.Manager
	lockMgr        lockmgr.ILockManager
	acquireTimeout time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire a lock. The lock is held until it is released or its timeout passed, even after this command exits.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock by deleting its key. The lock is released regardless of who acquired it.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add common client flags to the lock command
	util.SetupClientFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 30*time.Second, "Lock timeout, also bounds the wait for the lock (0 for no timeout)")
}

// setupLockClient initializes the lock manager
func setupLockClient(cmd *cobra.Command, _ []string) error {
	var err error
	lockPool, err = util.SetupPool(cmd)
	if err != nil {
		return err
	}

	lockMgr = lockmgr.NewLockManager(lockPool)
	return nil
}

func closeLockClient(_ *cobra.Command, _ []string) error {
	if lockPool == nil {
		return nil
	}
	return lockPool.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]

	lock, err := lockMgr.AcquireLock(cmd.Context(), key, acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	fmt.Printf("acquired=true, key=%s, expiry=%s\n", lock.Key, lock.Expiry.Format(time.RFC3339Nano))
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	key := args[0]

	if err := lockMgr.ReleaseLock(cmd.Context(), &lockmgr.Lock{Key: key}); err != nil {
		return err
	}

	fmt.Println("released=true")
	return nil
}
