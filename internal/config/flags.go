package config

import (
	"strings"

	"github.com/spf13/pflag"
)

const (
	flagHelp           = "help"
	flagHost           = "host"
	flagPort           = "port"
	flagConfig         = "config"
	flagMetricsAddr    = "metrics-addr"
	flagMDNS           = "mdns"
	flagQR             = "qr"
	flagAllowedOrigins = "allowed-origins"
	flagMaxMessageSize = "max-message-size"
	flagUpgradeRate    = "upgrade-rate"
	flagPortPolicy     = "port-policy"
	flagListenError    = "on-listen-error"

	// keyEnv has no flag; it is read from NODE_ENV or the config file.
	keyEnv = "env"
)

const (
	envHost           = "HOST"
	envPort           = "PORT"
	envNodeEnv        = "NODE_ENV"
	envConfig         = "RELAY_CONFIG"
	envMetricsAddr    = "METRICS_ADDR"
	envMDNS           = "MDNS"
	envQR             = "QR"
	envAllowedOrigins = "ALLOWED_ORIGINS"
	envMaxMessageSize = "MAX_MESSAGE_SIZE"
	envUpgradeRate    = "UPGRADE_RATE"
	envPortPolicy     = "PORT_POLICY"
	envListenError    = "LISTEN_ERROR_POLICY"
)

// valueFlags take an argument; a trailing occurrence with nothing after it is dropped.
var valueFlags = map[string]bool{
	"--" + flagHost:           true,
	"--" + flagPort:           true,
	"--" + flagConfig:         true,
	"--" + flagMetricsAddr:    true,
	"--" + flagAllowedOrigins: true,
	"--" + flagMaxMessageSize: true,
	"--" + flagUpgradeRate:    true,
	"--" + flagPortPolicy:     true,
	"--" + flagListenError:    true,
}

// NewFlagSet returns the relay's flag definitions. Ports and sizes are
// declared as strings so that validation follows the configured policy
// instead of failing inside the flag parser.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("docrelay", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SortFlags = false

	fs.String(flagPort, "", "port to listen on (default 1234 or $PORT)")
	fs.String(flagHost, "", "host to bind to (default 0.0.0.0 or $HOST)")
	fs.String(flagConfig, "", "path to a TOML config file ($RELAY_CONFIG)")
	fs.String(flagMetricsAddr, "", "address for the Prometheus metrics listener, disabled when empty ($METRICS_ADDR)")
	fs.Bool(flagMDNS, false, "advertise the relay on the local network via mDNS ($MDNS)")
	fs.Bool(flagQR, false, "print a QR code for the first connection URL ($QR)")
	fs.String(flagAllowedOrigins, "", "comma-separated origins allowed to upgrade, * for any ($ALLOWED_ORIGINS)")
	fs.String(flagMaxMessageSize, "", "maximum WebSocket message size in bytes ($MAX_MESSAGE_SIZE)")
	fs.String(flagUpgradeRate, "", "maximum upgrade handshakes per second, 0 for unlimited ($UPGRADE_RATE)")
	fs.String(flagPortPolicy, "", "invalid port handling: strict or default ($PORT_POLICY)")
	fs.String(flagListenError, "", "bind failure handling: exit or continue ($LISTEN_ERROR_POLICY)")
	fs.Bool(flagHelp, false, "show this help message (also -h)")
	return fs
}

// helpRequested reports whether --help or -h appears anywhere in args, even
// after the terminator or where another flag would consume it as a value.
func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--"+flagHelp || arg == "-h" {
			return true
		}
	}
	return false
}

// sanitizeArgs removes arguments the relay ignores but pflag would reject
// or misread: malformed flag syntax, a trailing value flag with no value and
// single-dash clusters. The relay defines no shorthand flags, and pflag
// treats any unknown cluster containing 'h' as a help request.
func sanitizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return append(out, args[i:]...)
		case valueFlags[arg]:
			if i == len(args)-1 {
				continue
			}
			out = append(out, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "---"), strings.HasPrefix(arg, "-="), strings.HasPrefix(arg, "--="):
		case isShorthandCluster(arg):
		default:
			out = append(out, arg)
		}
	}
	return out
}

func isShorthandCluster(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg[1] != '-'
}

// layers looks a setting up across flag, environment and file sources.
// Empty values fall through to the next source.
type layers struct {
	flags *pflag.FlagSet
	env   map[string]string
	file  map[string]string
}

func (l layers) lookup(name, envKey string) string {
	if f := l.flags.Lookup(name); f != nil && f.Changed {
		if v := f.Value.String(); v != "" {
			return v
		}
	}
	if v := l.env[envKey]; v != "" {
		return v
	}
	return l.file[name]
}

func (l layers) lookupOr(name, envKey, fallback string) string {
	if v := l.lookup(name, envKey); v != "" {
		return v
	}
	return fallback
}
