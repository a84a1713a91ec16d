// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tls provisions the certificate pair for the HTTPS control API.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultCertPath is the default path for the TLS certificate
	DefaultCertPath = "certs/xg2g-player.crt"
	// DefaultKeyPath is the default path for the TLS key
	DefaultKeyPath = "certs/xg2g-player.key"
	// DefaultValidity is the lifetime of generated certificates.
	DefaultValidity = 2 * 365 * 24 * time.Hour
)

// Config holds configuration for certificate provisioning.
type Config struct {
	CertPath string
	KeyPath  string
	// Hosts are extra DNS names or IP addresses for the certificate.
	Hosts  []string
	Logger zerolog.Logger
}

// EnsureCertificates returns the configured certificate pair, generating a
// self-signed one if either file is missing.
func EnsureCertificates(cfg Config) (certPath, keyPath string, err error) {
	certPath, keyPath = cfg.CertPath, cfg.KeyPath
	if certPath == "" {
		certPath = DefaultCertPath
	}
	if keyPath == "" {
		keyPath = DefaultKeyPath
	}

	certExists, keyExists := fileExists(certPath), fileExists(keyPath)
	if certExists && keyExists {
		cfg.Logger.Debug().Str("cert", certPath).Str("key", keyPath).Msg("TLS certificates found")
		return certPath, keyPath, nil
	}
	if certExists || keyExists {
		cfg.Logger.Warn().
			Bool("cert_exists", certExists).
			Bool("key_exists", keyExists).
			Msg("incomplete TLS certificate pair found, regenerating both")
	}

	hosts := slices.Clone(cfg.Hosts)
	if ips, err := networkIPs(); err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to detect network IPs, certificate will only cover localhost")
	} else {
		for _, ip := range ips {
			hosts = append(hosts, ip.String())
		}
	}

	if err := GenerateSelfSigned(certPath, keyPath, hosts, DefaultValidity); err != nil {
		return "", "", fmt.Errorf("generate self-signed certificate: %w", err)
	}
	cfg.Logger.Info().
		Str("cert", certPath).
		Str("key", keyPath).
		Strs("hosts", hosts).
		Dur("valid_for", DefaultValidity).
		Msg("self-signed TLS certificate generated")
	return certPath, keyPath, nil
}

// GenerateSelfSigned writes an ECDSA P-256 certificate and key valid for
// localhost and hosts. Both files are replaced atomically.
func GenerateSelfSigned(certPath, keyPath string, hosts []string, validFor time.Duration) error {
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cert directory: %w", err)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	ips, names := sans(hosts)
	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"xg2g-player self-signed"},
			CommonName:   "xg2g-player",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           ips,
		DNSNames:              names,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	if err := renameio.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := renameio.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return fmt.Errorf("write cert file: %w", err)
	}
	return nil
}

// sans splits hosts into IP and DNS subject alternative names, always
// including localhost and dropping duplicates.
func sans(hosts []string) ([]net.IP, []string) {
	all := append([]string{"localhost", "127.0.0.1", "::1"}, hosts...)
	seen := make(map[string]bool, len(all))
	var ips []net.IP
	var names []string
	for _, h := range all {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
		} else {
			names = append(names, h)
		}
	}
	return ips, names
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// networkIPs returns the non-loopback, non-link-local addresses of all
// interfaces that are up.
func networkIPs() ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("get network interfaces: %w", err)
	}
	var ips []net.IP
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}
