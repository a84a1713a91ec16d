// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the player's Prometheus collectors. Collectors are
// registered on the default registry through promauto; callers use the
// Record/Set helpers rather than the collectors directly.
package metrics
