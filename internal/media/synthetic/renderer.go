// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package synthetic

import (
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/media"
)

// Surface is the render resource handed out by Renderer.
type Surface struct {
	ID     int
	Width  int
	Height int
	Format media.PixelFormat
}

// Presented records one Present call.
type Presented struct {
	PTS      float64
	Serial   int
	Frame    uint64 // frame counter carried by the video payload
	Subtitle string
	At       time.Time
}

// Renderer records presented frames instead of drawing them. It keeps the
// most recent Keep entries (all when Keep is zero).
type Renderer struct {
	Keep int
	// OnPresent, when set, is called for every presented frame.
	OnPresent func(Presented)

	mu        sync.Mutex
	surfaces  int
	count     int
	presented []Presented
}

// AllocateSurface implements media.Renderer.
func (r *Renderer) AllocateSurface(width, height int, format media.PixelFormat) (media.Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("synthetic: invalid surface size %dx%d", width, height)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces++
	return &Surface{ID: r.surfaces, Width: width, Height: height, Format: format}, nil
}

// Present implements media.Renderer.
func (r *Renderer) Present(video, subtitle *media.Frame) error {
	if video == nil {
		return fmt.Errorf("synthetic: present without video frame")
	}
	p := Presented{PTS: video.PTS, Serial: video.Serial, At: time.Now()}
	if n, ok := video.Data.(uint64); ok {
		p.Frame = n
	}
	if subtitle != nil {
		p.Subtitle = subtitle.Subtitle.Text
	}

	r.mu.Lock()
	r.count++
	r.presented = append(r.presented, p)
	if r.Keep > 0 && len(r.presented) > r.Keep {
		r.presented = append(r.presented[:0], r.presented[len(r.presented)-r.Keep:]...)
	}
	cb := r.OnPresent
	r.mu.Unlock()

	if cb != nil {
		cb(p)
	}
	return nil
}

// Presented returns a copy of the recorded frames.
func (r *Renderer) Presented() []Presented {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Presented(nil), r.presented...)
}

// Count returns the total number of Present calls.
func (r *Renderer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Surfaces returns how many surfaces were allocated.
func (r *Renderer) Surfaces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces
}
