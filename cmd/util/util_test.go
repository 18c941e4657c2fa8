package util

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line exceeds %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("WrapString changed short text: %q", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"a", []string{"a"}},
		{"a, b ,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetClientConfigFromFlags(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := &cobra.Command{Use: "test"}
	SetupClientFlags(cmd)
	if err := cmd.ParseFlags([]string{"--masters", "mem://a, mem://b", "--pool-timeout", "5s", "--namespace", "app"}); err != nil {
		t.Fatal(err)
	}
	if err := BindCommandFlags(cmd); err != nil {
		t.Fatal(err)
	}

	config := GetClientConfig()
	if len(config.Masters) != 2 || config.Masters[1] != "mem://b" {
		t.Errorf("unexpected masters: %v", config.Masters)
	}
	if len(config.Slaves) != 0 {
		t.Errorf("unexpected slaves: %v", config.Slaves)
	}
	if config.PoolTimeout != 5*time.Second {
		t.Errorf("pool timeout = %v, want 5s", config.PoolTimeout)
	}
	if config.Namespace != "app" {
		t.Errorf("namespace = %q, want app", config.Namespace)
	}
	if config.LogLevel != "warn" || !config.Transport.TCPNoDelay {
		t.Errorf("defaults not applied: %+v", config)
	}
}
