package util

import (
	"strings"

	"github.com/ValentinKolb/replkv/lib/common"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/ValentinKolb/replkv/lib/stats"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var (
	// Logger is the logger of the command line tool
	Logger = logger.GetLogger("cli")

	// Stats collects the metrics of the pool created by SetupPool
	Stats = stats.New()
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the pool and connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()
	flags := cmd.PersistentFlags()

	// Hosts
	key := "masters"
	flags.String(key, strings.Join(defaults.Masters, ","), WrapString("Comma-separated list of read-write hosts ([user:password@]host[:port][?db=N&ssl=true], /path/to/socket or mem://name for an in-memory store)"))
	key = "slaves"
	flags.String(key, "", WrapString("Comma-separated list of read-only hosts. If empty, reads are served by the masters"))

	// Pool
	key = "write-pool-size"
	flags.Int(key, 0, WrapString("Number of slots of the write pool (0 = 20 per master)"))
	key = "read-pool-size"
	flags.Int(key, 0, WrapString("Number of slots of the read pool (0 = 20 per slave)"))
	key = "pool-timeout"
	flags.Duration(key, defaults.PoolTimeout, WrapString("How long to wait for a free slot (-1ns = wait forever)"))
	key = "recheck-interval"
	flags.Duration(key, defaults.RecheckInterval, WrapString("How often a waiting request rescans the pool"))
	key = "single-pool"
	flags.Bool(key, false, WrapString("Serve read-only requests from the write pool"))
	key = "strict-ownership"
	flags.Bool(key, false, WrapString("Only allow the owner of a client to use it"))
	key = "retry-timeout"
	flags.Duration(key, 0, WrapString("How long to retry operations after connection faults (0 = no retries)"))

	// Connection
	key = "send-timeout"
	flags.Duration(key, 0, WrapString("Send timeout of every connection (0 = use the host setting)"))
	key = "receive-timeout"
	flags.Duration(key, 0, WrapString("Receive timeout of every connection (0 = use the host setting)"))
	key = "db"
	flags.Int(key, 0, WrapString("Logical database to select (0 = database of the first master)"))
	key = "namespace"
	flags.String(key, "", WrapString("Prefix for all keys"))

	// Failover
	key = "verify-master"
	flags.Bool(key, false, WrapString("Check the role of new write connections and search the real master on mismatch"))
	key = "probe-timeout"
	flags.Duration(key, defaults.ProbeTimeout, WrapString("Timeout of each host probe while searching the master"))
	key = "grace-period"
	flags.Duration(key, defaults.GracePeriod, WrapString("How long clients removed from the pool stay open before they are closed"))

	// Transport
	key = "transport-read-buffer"
	flags.Int(key, defaults.Transport.ReadBufferKB, WrapString("The size of the read buffer of each connection (in KB)"))
	key = "transport-write-buffer"
	flags.Int(key, defaults.Transport.WriteBufferKB, WrapString("The size of the write buffer of each connection (in KB)"))
	key = "transport-tcp-nodelay"
	flags.Bool(key, defaults.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY"))
	key = "transport-tcp-keepalive"
	flags.Int(key, defaults.Transport.TCPKeepAliveSec, WrapString("The keepalive interval (in seconds, 0 = disabled)"))
	key = "client-name"
	flags.String(key, "", WrapString("Name announced with CLIENT SETNAME after connecting"))

	// Logging
	key = "log-level"
	flags.String(key, "warn", WrapString("Log level (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("replkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Masters:          splitList(viper.GetString("masters")),
		Slaves:           splitList(viper.GetString("slaves")),
		MaxWritePoolSize: viper.GetInt("write-pool-size"),
		MaxReadPoolSize:  viper.GetInt("read-pool-size"),
		PoolTimeout:      viper.GetDuration("pool-timeout"),
		RecheckInterval:  viper.GetDuration("recheck-interval"),
		SinglePool:       viper.GetBool("single-pool"),
		StrictOwnership:  viper.GetBool("strict-ownership"),
		RetryTimeout:     viper.GetDuration("retry-timeout"),
		SendTimeout:      viper.GetDuration("send-timeout"),
		ReceiveTimeout:   viper.GetDuration("receive-timeout"),
		DB:               viper.GetInt("db"),
		Namespace:        viper.GetString("namespace"),
		VerifyMaster:     viper.GetBool("verify-master"),
		ProbeTimeout:     viper.GetDuration("probe-timeout"),
		GracePeriod:      viper.GetDuration("grace-period"),
		Transport: common.TransportConfig{
			ReadBufferKB:    viper.GetInt("transport-read-buffer"),
			WriteBufferKB:   viper.GetInt("transport-write-buffer"),
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			ClientName:      viper.GetString("client-name"),
		},
		LogLevel: viper.GetString("log-level"),
	}
}

// SetupPool binds the command flags, initializes the loggers and creates the
// pool described by the configuration
func SetupPool(cmd *cobra.Command) (*pool.Manager, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}

	config := GetClientConfig()
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}
	Logger.Debugf("client configuration:\n%s", config)

	return config.NewManager(pool.WithStats(Stats))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// splitList splits a comma-separated list and trims the entries
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
