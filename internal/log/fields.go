// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldInput     = "input"
	FieldRequestID = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Stream fields
	FieldStream      = "stream"
	FieldStreamIndex = "stream_index"
	FieldMediaType   = "media_type"
	FieldSerial      = "serial"
	FieldCodec       = "codec"
	FieldResolution  = "resolution"
	FieldFPS         = "fps"
	FieldSampleRate  = "sample_rate"
	FieldChannels    = "channels"

	// Timing fields
	FieldPTS         = "pts"
	FieldDelay       = "delay"
	FieldAVDiff      = "av_diff"
	FieldMasterClock = "master_clock"
	FieldSyncType    = "sync_type"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
