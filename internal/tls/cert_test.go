// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCertificate(t *testing.T, certPath string) *x509.Certificate {
	t.Helper()
	// #nosec G304 -- test file
	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestGenerateSelfSigned(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certs", "test.crt")
	keyPath := filepath.Join(dir, "keys", "test.key")

	require.NoError(t, GenerateSelfSigned(certPath, keyPath, []string{"player.lan", "192.168.1.20", "localhost"}, time.Hour))

	_, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)

	cert := loadCertificate(t, certPath)
	assert.Equal(t, "xg2g-player", cert.Subject.CommonName)
	assert.ElementsMatch(t, []string{"localhost", "player.lan"}, cert.DNSNames)
	var ips []string
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1", "192.168.1.20"}, ips)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cert.NotAfter, time.Minute)
	assert.Contains(t, cert.ExtKeyUsage, x509.ExtKeyUsageServerAuth)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEnsureCertificates(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CertPath: filepath.Join(dir, "player.crt"),
		KeyPath:  filepath.Join(dir, "player.key"),
		Logger:   zerolog.Nop(),
	}

	certPath, keyPath, err := EnsureCertificates(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.CertPath, certPath)
	assert.Equal(t, cfg.KeyPath, keyPath)
	first := loadCertificate(t, certPath)

	// An existing pair is reused.
	_, _, err = EnsureCertificates(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.SerialNumber, loadCertificate(t, certPath).SerialNumber)

	// A missing key regenerates both.
	require.NoError(t, os.Remove(keyPath))
	_, _, err = EnsureCertificates(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first.SerialNumber, loadCertificate(t, certPath).SerialNumber)
	_, err = tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
}

func TestSANs(t *testing.T) {
	ips, names := sans([]string{"", "a.example", "a.example", "10.0.0.1"})
	assert.Equal(t, []string{"localhost", "a.example"}, names)
	assert.Len(t, ips, 3)
}
