// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package synthetic generates deterministic test sources and provides
// in-process stand-ins for the renderer and the audio device. It lets the
// player run end to end without codec or device bindings.
//
// Video packets carry a frame counter, audio packets carry little endian
// S16 PCM of a sine tone, subtitle packets carry text.
package synthetic
