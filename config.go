package kadnode

import (
	"flag"

	"kadnode/identifier"
)

// Default values mirror the original daemon's compiled-in constants
// (gconf defaults in conf.c), adjusted only where the specification calls
// for a different value.
const (
	DefaultPort              = 6881
	DefaultControlSocketPath = "/tmp/dhtd.sock"
	DefaultMaxHashes         = 1024
	DefaultMaxPeersPerHash   = 8
	DefaultBlocklistCapacity = 256
)

// Config holds every value needed to construct a Node. Values are either
// set directly or populated by RegisterFlags + flag.Parse, following the
// teacher's plain flag-package configuration style rather than a config
// file format the spec never asked for.
type Config struct {
	ID identifier.ID

	Port     int
	EnableV4 bool
	EnableV6 bool

	ControlSocketPath string
	ColorOutput       bool

	ExecutePath string

	MaxHashes         int
	MaxPeersPerHash   int
	BlocklistCapacity int
}

// NewConfig returns a Config populated with the daemon's defaults.
func NewConfig() Config {
	return Config{
		Port:              DefaultPort,
		EnableV4:          true,
		EnableV6:          false,
		ControlSocketPath: DefaultControlSocketPath,
		ColorOutput:       true,
		MaxHashes:         DefaultMaxHashes,
		MaxPeersPerHash:   DefaultMaxPeersPerHash,
		BlocklistCapacity: DefaultBlocklistCapacity,
	}
}

// RegisterFlags binds cfg's fields to fs, so main can call
// flag.Parse after kadnode.RegisterFlags(flag.CommandLine, &cfg).
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "UDP port to listen on")
	fs.BoolVar(&cfg.EnableV4, "ipv4", cfg.EnableV4, "enable the IPv4 socket")
	fs.BoolVar(&cfg.EnableV6, "ipv6", cfg.EnableV6, "enable the IPv6 socket")
	fs.StringVar(&cfg.ControlSocketPath, "control-socket", cfg.ControlSocketPath, "path of the control Unix socket (disabled if empty)")
	fs.BoolVar(&cfg.ColorOutput, "color", cfg.ColorOutput, "colorize control protocol error output")
	fs.StringVar(&cfg.ExecutePath, "execute", cfg.ExecutePath, "program to run on every newly discovered search result")
	fs.IntVar(&cfg.MaxHashes, "max-hashes", cfg.MaxHashes, "maximum distinct info-hashes cached in the storage layer")
	fs.IntVar(&cfg.MaxPeersPerHash, "max-peers-per-hash", cfg.MaxPeersPerHash, "maximum peers cached per info-hash")
	fs.IntVar(&cfg.BlocklistCapacity, "blocklist-capacity", cfg.BlocklistCapacity, "number of blocked addresses retained")
}
