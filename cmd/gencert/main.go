// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command gencert generates a self-signed TLS certificate for the player's
// control API.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/xg2g-player/internal/tls"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gencert", flag.ContinueOnError)
	certPath := fs.String("cert", tls.DefaultCertPath, "Path to certificate file")
	keyPath := fs.String("key", tls.DefaultKeyPath, "Path to key file")
	hosts := fs.String("hosts", "", "Comma-separated extra DNS names or IPs")
	validFor := fs.Duration("valid-for", tls.DefaultValidity, "Certificate lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var extra []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			extra = append(extra, h)
		}
	}
	if err := tls.GenerateSelfSigned(*certPath, *keyPath, extra, *validFor); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "✅ Self-signed TLS certificate generated:\n")
	_, _ = fmt.Fprintf(stdout, "   📄 Certificate: %s\n", *certPath)
	_, _ = fmt.Fprintf(stdout, "   🔑 Private Key: %s\n", *keyPath)
	_, _ = fmt.Fprintf(stdout, "   ⏱️  Valid for: %s\n", *validFor)
	return nil
}
