package ir

// Version constants for the canonical encoding and the execution core.
const (
	// EncodingVersion is bumped whenever the canonical byte layout changes.
	EncodingVersion = "1"

	// CoreVersion is the effectcore release recorded alongside log entries.
	CoreVersion = "0.1.0"
)
