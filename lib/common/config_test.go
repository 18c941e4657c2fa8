package common

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToManagerConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Masters = []string{"secret@db1:7000?db=2", "db2"}
	cfg.Slaves = []string{"db3:7001", ""}
	cfg.MaxWritePoolSize = 8
	cfg.Namespace = "app"
	cfg.RetryTimeout = time.Second

	mc, err := cfg.ToManagerConfig()
	require.NoError(t, err)

	require.Len(t, mc.Masters, 2)
	assert.Equal(t, "db1", mc.Masters[0].Host)
	assert.Equal(t, 7000, mc.Masters[0].Port)
	assert.Equal(t, 2, mc.Masters[0].DB)
	assert.Equal(t, "secret", mc.Masters[0].Password)
	assert.Equal(t, endpoint.DefaultPort, mc.Masters[1].Port)
	require.Len(t, mc.Slaves, 1)
	assert.Equal(t, 8, mc.MaxWritePoolSize)
	assert.Equal(t, "app", mc.Namespace)
	assert.Equal(t, time.Second, mc.RetryTimeout)
	assert.Equal(t, pool.DefaultPoolTimeout, mc.PoolTimeout)
}

func TestToManagerConfigInvalidHost(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Masters = []string{"db1:notaport"}
	_, err := cfg.ToManagerConfig()
	assert.ErrorContains(t, err, "invalid master host")

	cfg = DefaultClientConfig()
	cfg.Slaves = []string{"mem://"}
	_, err = cfg.ToManagerConfig()
	assert.ErrorContains(t, err, "invalid slave host")
}

func TestTransportOptions(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Transport.ReadBufferKB = 64
	cfg.Transport.TCPKeepAliveSec = 0
	cfg.Transport.ClientName = "worker"

	opts := cfg.ToTransportOptions()
	assert.Equal(t, 64*1024, opts.ReadBufferSize)
	assert.Equal(t, 16*1024, opts.WriteBufferSize)
	assert.Equal(t, time.Duration(0), opts.TCPKeepAlive)
	assert.Equal(t, "worker", opts.ClientName)
}

func TestStringHidesPasswords(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Masters = []string{"user:hunter2@db1:7000"}

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "user@db1:7000")
	for _, section := range []string{"MASTERS", "SLAVES", "POOL", "CONNECTION", "FAILOVER", "LOGGING"} {
		assert.Contains(t, s, section)
	}
	assert.Contains(t, s, "masters serve reads")
}

func TestNewManagerWithMemoryHosts(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultClientConfig()
	cfg.Masters = []string{"mem://primary"}
	cfg.Slaves = []string{"mem://replica"}

	m, err := cfg.NewManager()
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Exec(ctx, func(c *client.Client) error {
		return c.Set(ctx, "k", "v", 0)
	}))

	var got []byte
	require.NoError(t, m.ExecReadOnly(ctx, func(c *client.Client) error {
		assert.Equal(t, "mem://replica", c.Endpoint().Host)
		var err error
		got, err = c.Get(ctx, "k")
		return err
	}))
	assert.Equal(t, "v", string(got))
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		_, err := ParseLogLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("verbose"))
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	old := LogOutput
	LogOutput = &buf
	defer func() { LogOutput = old }()

	l := CreateLogger("pool")
	l.Debugf("hidden")
	l.Infof("slot %d ready", 3)
	l.Warningf("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO  | pool         | slot 3 ready")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}
