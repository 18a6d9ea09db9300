// Package config resolves the relay's effective settings from command-line
// flags, environment variables, an optional TOML file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 1234
	DefaultEnv                  = "development"
	DefaultMaxMessageSize int64 = 10 << 20
)

// PortPolicy selects what happens to a port value that is not a valid TCP port.
type PortPolicy string

const (
	// PortPolicyStrict rejects the value with a *PortError.
	PortPolicyStrict PortPolicy = "strict"
	// PortPolicyDefault replaces the value with DefaultPort.
	PortPolicyDefault PortPolicy = "default"
)

// ListenErrorPolicy selects what the process does when the listener cannot bind.
type ListenErrorPolicy string

const (
	// ListenErrorExit terminates the process with a non-zero status.
	ListenErrorExit ListenErrorPolicy = "exit"
	// ListenErrorContinue logs the failure and keeps the process alive, unbound.
	ListenErrorContinue ListenErrorPolicy = "continue"
)

// EffectiveConfig is the immutable result of resolution. When HelpRequested is
// set no other field is populated.
type EffectiveConfig struct {
	Host          string
	Port          int
	HelpRequested bool

	// Env is the display label for the deployment environment.
	Env string

	// RawPort is the port text before validation; PortFallback reports that
	// it was replaced by DefaultPort under PortPolicyDefault.
	RawPort      string
	PortFallback bool

	PortPolicy        PortPolicy
	ListenErrorPolicy ListenErrorPolicy

	MetricsAddr    string
	MDNS           bool
	QR             bool
	AllowedOrigins []string
	MaxMessageSize int64
	// UpgradeRate caps accepted upgrade handshakes per second; zero disables the cap.
	UpgradeRate float64

	ConfigPath string
}

// Addr returns host:port suitable for net.Listen.
func (c EffectiveConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsProduction reports whether the environment label names a production deployment.
func (c EffectiveConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// PortError describes a port value rejected under PortPolicyStrict.
type PortError struct {
	Value string
	Err   error
}

func (e *PortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid port %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid port %q", e.Value)
}

func (e *PortError) Unwrap() error { return e.Err }

var errPortRange = errors.New("must be between 0 and 65535")

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Resolve computes the effective configuration. Precedence, highest first:
// command-line flag, environment variable, config file, default. Flags the
// relay does not know are ignored. When --help or -h is present resolution
// stops and only HelpRequested is set.
func Resolve(args []string, env map[string]string) (EffectiveConfig, error) {
	if helpRequested(args) {
		return EffectiveConfig{HelpRequested: true}, nil
	}

	fs := NewFlagSet()
	if err := fs.Parse(sanitizeArgs(args)); err != nil {
		return EffectiveConfig{}, fmt.Errorf("parse flags: %w", err)
	}
	if help, _ := fs.GetBool(flagHelp); help {
		return EffectiveConfig{HelpRequested: true}, nil
	}

	r := layers{flags: fs, env: env}

	cfg := EffectiveConfig{
		ConfigPath: r.lookup(flagConfig, envConfig),
	}
	if cfg.ConfigPath != "" {
		fc, err := LoadFileConfig(cfg.ConfigPath)
		if err != nil {
			return EffectiveConfig{}, fmt.Errorf("load config %s: %w", cfg.ConfigPath, err)
		}
		r.file = fc.values()
	}

	cfg.Host = r.lookupOr(flagHost, envHost, DefaultHost)
	cfg.Env = r.lookupOr(keyEnv, envNodeEnv, DefaultEnv)
	cfg.MetricsAddr = r.lookup(flagMetricsAddr, envMetricsAddr)
	cfg.AllowedOrigins = splitList(r.lookupOr(flagAllowedOrigins, envAllowedOrigins, "*"))

	var err error
	if cfg.PortPolicy, err = parsePortPolicy(r.lookupOr(flagPortPolicy, envPortPolicy, string(PortPolicyStrict))); err != nil {
		return EffectiveConfig{}, err
	}
	if cfg.ListenErrorPolicy, err = parseListenErrorPolicy(r.lookupOr(flagListenError, envListenError, string(ListenErrorExit))); err != nil {
		return EffectiveConfig{}, err
	}

	cfg.RawPort = r.lookupOr(flagPort, envPort, strconv.Itoa(DefaultPort))
	port, err := parsePort(cfg.RawPort)
	switch {
	case err == nil:
		cfg.Port = port
	case cfg.PortPolicy == PortPolicyDefault:
		cfg.Port = DefaultPort
		cfg.PortFallback = true
	default:
		return EffectiveConfig{}, err
	}

	if cfg.MDNS, err = parseBool(flagMDNS, r.lookup(flagMDNS, envMDNS)); err != nil {
		return EffectiveConfig{}, err
	}
	if cfg.QR, err = parseBool(flagQR, r.lookup(flagQR, envQR)); err != nil {
		return EffectiveConfig{}, err
	}

	cfg.MaxMessageSize = DefaultMaxMessageSize
	if v := r.lookup(flagMaxMessageSize, envMaxMessageSize); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return EffectiveConfig{}, fmt.Errorf("parse %s: invalid size %q", flagMaxMessageSize, v)
		}
		cfg.MaxMessageSize = size
	}

	if v := r.lookup(flagUpgradeRate, envUpgradeRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 {
			return EffectiveConfig{}, fmt.Errorf("parse %s: invalid rate %q", flagUpgradeRate, v)
		}
		cfg.UpgradeRate = rate
	}

	return cfg, nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &PortError{Value: raw, Err: err}
	}
	if port < 0 || port > 65535 {
		return 0, &PortError{Value: raw, Err: errPortRange}
	}
	return port, nil
}

func parsePortPolicy(v string) (PortPolicy, error) {
	switch p := PortPolicy(strings.ToLower(v)); p {
	case PortPolicyStrict, PortPolicyDefault:
		return p, nil
	}
	return "", fmt.Errorf("parse %s: unknown policy %q (want strict or default)", flagPortPolicy, v)
}

func parseListenErrorPolicy(v string) (ListenErrorPolicy, error) {
	switch p := ListenErrorPolicy(strings.ToLower(v)); p {
	case ListenErrorExit, ListenErrorContinue:
		return p, nil
	}
	return "", fmt.Errorf("parse %s: unknown policy %q (want exit or continue)", flagListenError, v)
}

// parseBool accepts the spellings used by environment variables as well as
// the strconv forms produced by pflag.
func parseBool(name, v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("parse %s: invalid boolean %q", name, v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
