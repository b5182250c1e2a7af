package tls

import (
	stdtls "crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// DefaultValidity is the lifetime of generated certificates.
const DefaultValidity = 5 * 365 * 24 * time.Hour

// Options configures TLS for the HTTP API.
//
//	[server.tls]
//	enabled = true
//	dir = "/var/lib/affinityd/tls"   # holds tls.crt and tls.key
//	auto_generate = true             # create a self-signed pair when missing
//	min_version = "1.2"
type Options struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"` // names and IPs put in generated certificates
}

// parseVersion maps "1.2"/"1.3" to the crypto/tls constant; empty means 1.3.
func parseVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.3", "tls1.3":
		return stdtls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return stdtls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", ver)
}

// paths returns the certificate and key files to serve.
func (o Options) paths() (cert, key string, err error) {
	switch {
	case o.CertFile != "" && o.KeyFile != "":
		return o.CertFile, o.KeyFile, nil
	case o.CertFile != "" || o.KeyFile != "":
		return "", "", errors.New("tls: cert_file and key_file must be set together")
	case o.Dir != "":
		return filepath.Join(o.Dir, certName), filepath.Join(o.Dir, keyName), nil
	}
	return "", "", errors.New("tls: enabled but neither cert_file/key_file nor dir is set")
}

// Validate checks the options without touching the filesystem.
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if _, _, err := o.paths(); err != nil {
		return err
	}
	_, err := parseVersion(o.MinVersion)
	return err
}

// Setup builds the server TLS configuration. It returns nil when TLS is
// disabled. With AutoGenerate and a Dir, a missing pair is generated first.
// Certificates are re-read on every handshake so renewals need no restart.
func Setup(o Options) (*stdtls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := o.paths()
	if err != nil {
		return nil, err
	}
	if o.AutoGenerate && o.Dir != "" && !exists(certPath, keyPath) {
		hosts := o.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1"}
		}
		if err := GenerateSelfSigned(certPath, keyPath, hosts, DefaultValidity); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := stdtls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	// #nosec G402 minimum version is configurable down to 1.2 only
	return &stdtls.Config{
		GetCertificate: reloading(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func reloading(certPath, keyPath string) func(*stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
	return func(*stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
		c, err := stdtls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
