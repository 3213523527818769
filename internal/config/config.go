// Package config parses the command-line flags into an immutable Config
// value used both at startup and by the CONFIG GET command surface.
package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Config is built once at startup and never mutated afterward.
type Config struct {
	Dir         string
	DBFilename  string
	BindHost    string
	Port        uint16
	ReplicaOf   *net.TCPAddr
	MetricsAddr string
	LogLevel    string
}

// Parse parses args (typically os.Args[1:]) into a Config. A --replicaof
// value is resolved via DNS immediately; failure to resolve is a fatal
// startup error.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("redis", flag.ContinueOnError)
	dir := fs.String("dir", "", "directory containing the RDB snapshot")
	dbfilename := fs.String("dbfilename", "", "RDB snapshot filename")
	host := fs.String("host", "127.0.0.1", "address to bind the RESP listener to")
	port := fs.Int("port", 6379, "RESP listener port")
	replicaof := fs.String("replicaof", "", `"<host> <port>" of the primary to replicate from`)
	metricsAddr := fs.String("metrics-addr", "127.0.0.1:9121", "address to serve Prometheus metrics on")
	logLevel := fs.String("log-level", "info", "debug|info|warning|error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Dir:         *dir,
		DBFilename:  *dbfilename,
		BindHost:    *host,
		Port:        uint16(*port),
		MetricsAddr: *metricsAddr,
		LogLevel:    *logLevel,
	}

	if *replicaof != "" {
		addr, err := resolveReplicaOf(*replicaof)
		if err != nil {
			return Config{}, err
		}
		cfg.ReplicaOf = addr
	}

	return cfg, nil
}

func resolveReplicaOf(spec string) (*net.TCPAddr, error) {
	parts := strings.SplitN(spec, " ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("config: --replicaof must be \"<host> <port>\", got %q", spec)
	}
	host, portStr := parts[0], parts[1]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("config: --replicaof port %q: %w", portStr, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("config: resolving --replicaof host %q: %w", host, err)
	}
	return &net.TCPAddr{IP: ips[0], Port: port}, nil
}

// Snapshot is the subset of Config visible to CONFIG GET.
type Snapshot struct {
	Dir        string
	DBFilename string
}

// ConfigSnapshot returns the CONFIG GET view of c.
func (c Config) ConfigSnapshot() Snapshot {
	return Snapshot{Dir: c.Dir, DBFilename: c.DBFilename}
}

// RDBPath returns the full path to the snapshot file, or "" if either
// --dir or --dbfilename was not given.
func (c Config) RDBPath() string {
	if c.Dir == "" || c.DBFilename == "" {
		return ""
	}
	return c.Dir + "/" + c.DBFilename
}

// ListenAddr is the host:port the RESP listener binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(int(c.Port)))
}
