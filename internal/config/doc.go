// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for xg2g-player.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys and trailing documents are rejected. Environment overrides use
// the XG2G_PLAYER_ prefix and every consumed key is recorded on the Loader.
package config
