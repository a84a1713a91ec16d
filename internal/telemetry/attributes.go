// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on player spans.
const (
	SessionIDKey = "player.session_id"
	InputKey     = "player.input"
	SyncTypeKey  = "player.sync_type"

	StreamIndexKey = "stream.index"
	StreamTypeKey  = "stream.type"
	StreamCodecKey = "stream.codec"

	SeekModeKey   = "seek.mode"
	SeekTargetKey = "seek.target"
	SeekByBytes   = "seek.by_bytes"
)

// SessionAttributes identifies a playback session.
func SessionAttributes(sessionID, input, syncType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if input != "" {
		attrs = append(attrs, attribute.String(InputKey, input))
	}
	if syncType != "" {
		attrs = append(attrs, attribute.String(SyncTypeKey, syncType))
	}
	return attrs
}

// StreamAttributes describes an elementary stream.
func StreamAttributes(index int, mediaType, codec string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(StreamIndexKey, index),
		attribute.String(StreamTypeKey, mediaType),
	}
	if codec != "" {
		attrs = append(attrs, attribute.String(StreamCodecKey, codec))
	}
	return attrs
}

// SeekAttributes describes a seek request. target is in microseconds, or a
// byte offset when byBytes is set.
func SeekAttributes(mode string, target int64, byBytes bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SeekModeKey, mode),
		attribute.Int64(SeekTargetKey, target),
		attribute.Bool(SeekByBytes, byBytes),
	}
}
