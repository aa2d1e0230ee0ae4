package certgen

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atinyakov/CargoDesk/internal/client/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthority(t *testing.T) {
	ca, err := NewAuthority("Test CA", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ca.Cert.IsCA)
	assert.Equal(t, "Test CA", ca.Cert.Subject.CommonName)
	assert.NotZero(t, ca.Cert.KeyUsage&x509.KeyUsageCertSign)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), ca.Cert.NotAfter, time.Minute)
}

func TestIssueServerSANs(t *testing.T) {
	ca, err := NewAuthority("Test CA", time.Hour)
	require.NoError(t, err)

	pair, err := ca.IssueServer([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode(pair.CertPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())

	roots := x509.NewCertPool()
	roots.AddCert(ca.Cert)
	_, err = cert.Verify(x509.VerifyOptions{
		DNSName:   "localhost",
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	assert.NoError(t, err)

	_, err = ca.IssueServer(nil, time.Hour)
	assert.Error(t, err)
}

func TestWriteAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	require.NoError(t, WriteDevCerts(dir, []string{"localhost"}))

	info, err := os.Stat(filepath.Join(dir, ServerKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ca, err := LoadAuthority(filepath.Join(dir, CACertFile), filepath.Join(dir, CAKeyFile))
	require.NoError(t, err)
	assert.Equal(t, "CargoDesk Dev CA", ca.Cert.Subject.CommonName)

	_, err = LoadAuthority(filepath.Join(dir, ServerCertFile), filepath.Join(dir, ServerKeyFile))
	assert.Error(t, err, "server certificate is not a CA")
	_, err = LoadAuthority(filepath.Join(dir, "missing.crt"), filepath.Join(dir, CAKeyFile))
	assert.Error(t, err)
}

// The generated CA lets the client reach a server using the issued
// certificate.
func TestClientTrustsIssuedCertificate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDevCerts(dir, []string{"127.0.0.1"}))

	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, ServerCertFile), filepath.Join(dir, ServerKeyFile))
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	srv.StartTLS()
	defer srv.Close()

	client, err := gateway.NewHTTPClient(nil, time.Second, filepath.Join(dir, CACertFile))
	require.NoError(t, err)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	untrusted, err := gateway.NewHTTPClient(nil, time.Second, "")
	require.NoError(t, err)
	_, err = untrusted.Get(srv.URL)
	assert.Error(t, err)
}
