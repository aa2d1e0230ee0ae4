package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout bounds every gateway request. Expiry surfaces as Transport.
const DefaultTimeout = 10 * time.Second

// NewHTTPClient builds the credentialed client the gateway talks through.
// jar carries the session cookie. caFile optionally adds a root CA for a
// backend with a private certificate.
func NewHTTPClient(jar http.CookieJar, timeout time.Duration, caFile string) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Jar: jar, Timeout: timeout}
	if caFile == "" {
		return client, nil
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool, err := x509.SystemCertPool()
	if err != nil || caPool == nil {
		caPool = x509.NewCertPool()
	}
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    caPool,
			MinVersion: tls.VersionTLS12,
		},
	}
	return client, nil
}
