package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is used when a host string carries no port
	DefaultPort = 6379

	// MemScheme prefixes endpoints served by the in-memory store (see memconn)
	MemScheme = "mem://"
)

// Endpoint describes a single host of the replicated store.
// It is an immutable value: all fields are comparable, so an Endpoint can be
// used as a map key and deduplicated in host sets.
type Endpoint struct {
	Host     string
	Port     int
	DB       int
	Username string
	Password string
	TLS      bool

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// IsUnix reports whether the endpoint is a unix socket path
func (e Endpoint) IsUnix() bool {
	return strings.HasPrefix(e.Host, "/")
}

// IsMem reports whether the endpoint addresses the in-memory store
func (e Endpoint) IsMem() bool {
	return strings.HasPrefix(e.Host, MemScheme)
}

// Addr returns the dialable address (host:port, or the socket path)
func (e Endpoint) Addr() string {
	if e.IsUnix() || e.IsMem() {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the endpoint in the same format Parse accepts, without the password
func (e Endpoint) String() string {
	var sb strings.Builder
	if e.Username != "" {
		sb.WriteString(e.Username)
		sb.WriteString("@")
	}
	sb.WriteString(e.Addr())
	if e.DB != 0 {
		sb.WriteString("?db=")
		sb.WriteString(strconv.Itoa(e.DB))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// Parse converts a host string into an Endpoint. Accepted format:
//
//	[user:password@]host[:port][?db=N&ssl=true&connectTimeout=1s&sendTimeout=..&receiveTimeout=..]
//
// Unix socket paths start with "/", the in-memory store is addressed as mem://name.
// Timeouts accept Go durations ("500ms") or plain milliseconds ("500").
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	ep := Endpoint{Port: DefaultPort}

	// split off query options
	rest := s
	query := ""
	if i := strings.Index(rest, "?"); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}

	// the in-memory scheme carries no credentials or port
	if strings.HasPrefix(rest, MemScheme) {
		if len(rest) == len(MemScheme) {
			return Endpoint{}, fmt.Errorf("endpoint %q: missing store name", s)
		}
		ep.Host = rest
		ep.Port = 0
		return ep, applyOptions(&ep, s, query)
	}

	// credentials
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		creds := rest[:i]
		rest = rest[i+1:]
		if user, pass, ok := strings.Cut(creds, ":"); ok {
			ep.Username, ep.Password = user, pass
		} else {
			ep.Password = creds
		}
	}

	switch {
	case strings.HasPrefix(rest, "/"):
		ep.Host = rest
		ep.Port = 0
	case strings.Contains(rest, ":") && !strings.HasSuffix(rest, "]"):
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", s, port)
		}
		ep.Host, ep.Port = host, p
	default:
		ep.Host = strings.Trim(rest, "[]")
	}

	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing host", s)
	}

	return ep, applyOptions(&ep, s, query)
}

// ParseList parses every host string of the list.
// Empty entries (e.g. from a trailing comma) are skipped.
func ParseList(hosts []string) ([]Endpoint, error) {
	eps := make([]Endpoint, 0, len(hosts))
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		ep, err := Parse(h)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// MustParseList is ParseList for static host lists (tests, examples).
// It panics on error.
func MustParseList(hosts ...string) []Endpoint {
	eps, err := ParseList(hosts)
	if err != nil {
		panic(err)
	}
	return eps
}

// applyOptions parses the query part of an endpoint string
func applyOptions(ep *Endpoint, raw, query string) error {
	if query == "" {
		return nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("endpoint %q: %w", raw, err)
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[len(vals)-1]

		switch strings.ToLower(key) {
		case "db":
			db, err := strconv.Atoi(val)
			if err != nil || db < 0 {
				return fmt.Errorf("endpoint %q: invalid db %q", raw, val)
			}
			ep.DB = db
		case "ssl", "tls":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("endpoint %q: invalid ssl flag %q", raw, val)
			}
			ep.TLS = b
		case "password":
			ep.Password = val
		case "username", "user":
			ep.Username = val
		case "connecttimeout":
			if ep.ConnectTimeout, err = parseTimeout(val); err != nil {
				return fmt.Errorf("endpoint %q: connectTimeout: %w", raw, err)
			}
		case "sendtimeout":
			if ep.SendTimeout, err = parseTimeout(val); err != nil {
				return fmt.Errorf("endpoint %q: sendTimeout: %w", raw, err)
			}
		case "receivetimeout":
			if ep.ReceiveTimeout, err = parseTimeout(val); err != nil {
				return fmt.Errorf("endpoint %q: receiveTimeout: %w", raw, err)
			}
		default:
			return fmt.Errorf("endpoint %q: unknown option %q", raw, key)
		}
	}
	return nil
}

// parseTimeout accepts a Go duration or a plain number of milliseconds
func parseTimeout(val string) (time.Duration, error) {
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(val)
}
