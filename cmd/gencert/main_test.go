// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	cryptotls "crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_GeneratesPair(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-cert", cert, "-key", key, "-hosts", "player.lan, 10.0.0.2", "-valid-for", "24h"}, &out))
	assert.Contains(t, out.String(), cert)
	assert.Contains(t, out.String(), "24h0m0s")

	pair, err := cryptotls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	require.NotNil(t, pair.Leaf)
	assert.Contains(t, pair.Leaf.DNSNames, "player.lan")
}

func TestRun_BadFlag(t *testing.T) {
	assert.Error(t, run([]string{"-valid-for", "forever"}, &bytes.Buffer{}))
}
