package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/pipeline"
	"github.com/spf13/cobra"
)

var (
	setTTL  time.Duration
	incrBy  int64
	msetTTL time.Duration

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, value := args[0], args[1]
			if err := kvPool.Exec(ctx, func(c *client.Client) error {
				return c.Set(ctx, key, value, setTTL)
			}); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key from a read-only host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]
			var value []byte
			if err := kvPool.ExecReadOnly(ctx, func(c *client.Client) (err error) {
				value, err = c.Get(ctx, key)
				return err
			}); err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", key, value != nil, value)
			return nil
		},
	}
	mgetCmd = &cobra.Command{
		Use:   "mget [key]...",
		Short: "Reads the values of several keys in one pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			values := make([][]byte, len(args))
			if err := kvPool.ExecReadOnly(ctx, func(c *client.Client) error {
				p, err := pipeline.New(c)
				if err != nil {
					return err
				}
				defer p.Close()

				for i, key := range args {
					if err := p.Get(key, func(v []byte) { values[i] = v }); err != nil {
						return err
					}
				}
				return p.Flush(ctx)
			}); err != nil {
				return err
			}
			for i, key := range args {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, values[i] != nil, values[i])
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]...",
		Short: "Deletes key value pairs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var n int64
			if err := kvPool.Exec(ctx, func(c *client.Client) (err error) {
				n, err = c.Del(ctx, args...)
				return err
			}); err != nil {
				return err
			}
			fmt.Printf("deleted=%d\n", n)
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key]",
		Short: "Increments the integer value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]
			var n int64
			if err := kvPool.Exec(ctx, func(c *client.Client) (err error) {
				n, err = c.IncrBy(ctx, key, incrBy)
				return err
			}); err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%d\n", key, n)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]
			var found bool
			if err := kvPool.ExecReadOnly(ctx, func(c *client.Client) (err error) {
				found, err = c.Exists(ctx, key)
				return err
			}); err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	msetCmd = &cobra.Command{
		Use:   "mset [key] [value] [[key] [value]]...",
		Short: "Sets several keys atomically in one transaction",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return errors.New("requires key value pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := kvPool.Exec(ctx, func(c *client.Client) error {
				return setAll(ctx, c, args, msetTTL)
			}); err != nil {
				return err
			}
			fmt.Printf("set %d keys successfully\n", len(args)/2)
			return nil
		},
	}
)

func init() {
	setCmd.Flags().DurationVar(&setTTL, "ttl", 0, "Expire the key after this duration (0 = never)")
	msetCmd.Flags().DurationVar(&msetTTL, "ttl", 0, "Expire the keys after this duration (0 = never)")
	incrCmd.Flags().Int64Var(&incrBy, "by", 1, "Amount to increment by")
}

// setAll stores the key value pairs in a MULTI/EXEC transaction
func setAll(ctx context.Context, c *client.Client, pairs []string, ttl time.Duration) error {
	tx, err := pipeline.Begin(c)
	if err != nil {
		return err
	}
	defer tx.Close()

	for i := 0; i < len(pairs); i += 2 {
		if err := tx.Set(pairs[i], pairs[i+1], ttl); err != nil {
			return err
		}
	}

	ok, err := tx.Commit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return pipeline.ErrTransactionAborted
	}
	return nil
}
