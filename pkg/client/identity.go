package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// CertBundle holds the PEM-encoded certificate material for an mTLS client
// identity, as laid out on disk by provisioning tooling.
type CertBundle struct {
	// CertPEM is the client's X.509 certificate.
	CertPEM string

	// PrivateKeyPEM is the client's private key. Keep this secret.
	PrivateKeyPEM string

	// CAPEM is the CA certificate used to verify the server's TLS cert.
	CAPEM string
}

// LoadCertBundle reads cert.pem, key.pem, and ca.pem from dir.
//
//	bundle, err := client.LoadCertBundle(os.ExpandEnv("$HOME/.veralog/certs/prod"))
func LoadCertBundle(dir string) (*CertBundle, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	}

	cert, err := read("cert.pem")
	if err != nil {
		return nil, err
	}
	key, err := read("key.pem")
	if err != nil {
		return nil, err
	}
	ca, err := read("ca.pem")
	if err != nil {
		return nil, err
	}
	return &CertBundle{CertPEM: cert, PrivateKeyPEM: key, CAPEM: ca}, nil
}

// WithCertDir loads cert.pem, key.pem, and ca.pem from dir and configures
// mTLS with them:
//
//	c, err := client.New(addr,
//	    client.WithCertDir(certDir),
//	    client.WithStateService(anchors),
//	)
func WithCertDir(dir string) Option {
	return func(c *Client) error {
		bundle, err := LoadCertBundle(dir)
		if err != nil {
			return fmt.Errorf("load cert bundle from %q: %w", dir, err)
		}
		return WithMTLS(bundle.CertPEM, bundle.PrivateKeyPEM, bundle.CAPEM)(c)
	}
}
