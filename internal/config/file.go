package config

import (
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig is the TOML representation of the settings. Every field is
// optional; zero values defer to the defaults.
type FileConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Env               string   `toml:"env"`
	MetricsAddr       string   `toml:"metrics_addr"`
	MDNS              *bool    `toml:"mdns"`
	QR                *bool    `toml:"qr"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	MaxMessageSize    int64    `toml:"max_message_size"`
	UpgradeRate       float64  `toml:"upgrade_rate"`
	PortPolicy        string   `toml:"port_policy"`
	ListenErrorPolicy string   `toml:"listen_error_policy"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// values flattens the file into the string form shared with flags and env.
func (fc FileConfig) values() map[string]string {
	v := map[string]string{
		flagHost:           fc.Host,
		keyEnv:             fc.Env,
		flagMetricsAddr:    fc.MetricsAddr,
		flagAllowedOrigins: strings.Join(fc.AllowedOrigins, ","),
		flagPortPolicy:     fc.PortPolicy,
		flagListenError:    fc.ListenErrorPolicy,
	}
	if fc.Port != 0 {
		v[flagPort] = strconv.Itoa(fc.Port)
	}
	if fc.MDNS != nil {
		v[flagMDNS] = strconv.FormatBool(*fc.MDNS)
	}
	if fc.QR != nil {
		v[flagQR] = strconv.FormatBool(*fc.QR)
	}
	if fc.MaxMessageSize != 0 {
		v[flagMaxMessageSize] = strconv.FormatInt(fc.MaxMessageSize, 10)
	}
	if fc.UpgradeRate != 0 {
		v[flagUpgradeRate] = strconv.FormatFloat(fc.UpgradeRate, 'f', -1, 64)
	}
	return v
}
