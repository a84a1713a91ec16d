// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media defines the data units exchanged with the playback engine and
// the narrow contracts of its external collaborators: the demuxer, the frame
// decoder primitive, the renderer and the pull-based audio sink.
//
// Nothing in this package decodes or renders anything. Concrete bindings live
// elsewhere (see media/synthetic for the test-pattern implementation).
package media
