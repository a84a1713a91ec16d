// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

// PacketKind distinguishes compressed data from in-band queue sentinels.
type PacketKind int

const (
	// PacketData carries compressed payload.
	PacketData PacketKind = iota
	// PacketFlush marks the point where the queue serial changed; decoders
	// reset their internal state when they reach it.
	PacketFlush
	// PacketEndOfStream signals that no more data follows for a stream. The
	// queue stays open.
	PacketEndOfStream
)

func (k PacketKind) String() string {
	switch k {
	case PacketFlush:
		return "flush"
	case PacketEndOfStream:
		return "eos"
	default:
		return "data"
	}
}

// Packet is one compressed unit as produced by a demuxer.
// Timestamps are expressed in the time base of the owning stream.
type Packet struct {
	StreamIndex int
	Kind        PacketKind
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	Pos         int64 // byte offset in the input, -1 if unknown
}

// TS returns PTS, falling back to DTS when PTS is unknown.
func (p Packet) TS() int64 {
	if p.PTS == NoPTS {
		return p.DTS
	}
	return p.PTS
}

// Clone returns a copy of p with its own payload.
func (p Packet) Clone() Packet {
	out := p
	if p.Data != nil {
		out.Data = append([]byte(nil), p.Data...)
	}
	return out
}

// NewEndOfStream returns the sentinel packet for streamIndex.
func NewEndOfStream(streamIndex int) Packet {
	return Packet{StreamIndex: streamIndex, Kind: PacketEndOfStream, PTS: NoPTS, DTS: NoPTS, Pos: -1}
}

// NewFlush returns the flush sentinel packet.
func NewFlush() Packet {
	return Packet{StreamIndex: -1, Kind: PacketFlush, PTS: NoPTS, DTS: NoPTS, Pos: -1}
}
