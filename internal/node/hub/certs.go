package hub

import (
	"crypto/x509"
	"fmt"
	"os"
)

// LoadRootCAs reads a PEM bundle. An empty path yields an empty bundle.
func LoadRootCAs(path string) (string, *x509.CertPool, error) {
	if path == "" {
		return "", nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read root certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return "", nil, fmt.Errorf("no certificates found in %s", path)
	}
	return string(data), pool, nil
}
