// Package snowflake implements the monotonic 64-bit identifier used for
// every message, channel, author, and server id in apate.
package snowflake

import (
	"strconv"
	"time"
)

// ID is a 64-bit monotonic identifier whose high bits encode a millisecond
// timestamp. Ordering by ID equals ordering by creation time. Zero means
// "unset" — callers must check IsZero before treating an ID as valid.
type ID uint64

// Epoch is the reference point snowflake timestamps are offset from. Discord's
// own epoch (2015-01-01) is reused here since it's the convention the system
// was originally built against and any fixed epoch works for ordering.
const Epoch int64 = 1420070400000

// timestampShift is the number of low bits NOT used for the timestamp.
// A snowflake's millisecond timestamp lives in its high 42 bits.
const timestampShift = 22

// Zero is the sentinel "unset" id.
const Zero ID = 0

// IsZero reports whether id is the unset sentinel.
func (id ID) IsZero() bool { return id == Zero }

// String renders the id as its decimal digit string, the form used in table
// names and wire payloads.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Parse parses a decimal digit string into an ID. Empty string parses to Zero.
func Parse(s string) (ID, error) {
	if s == "" {
		return Zero, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Zero, err
	}
	return ID(v), nil
}

// Timestamp extracts the embedded creation time.
func (id ID) Timestamp() time.Time {
	ms := Epoch + int64(uint64(id)>>timestampShift)
	return time.UnixMilli(ms)
}

// HumanReadable renders the embedded timestamp for storage in
// MessageRecord.TimestampHumanReadable / embedding text prefixes.
func (id ID) HumanReadable() string {
	return id.Timestamp().UTC().Format("2006-01-02 15:04:05")
}

// Max returns the greater of a and b, treating Zero as "no value" only when
// the caller explicitly wants that semantics — callers needing that handle it
// themselves; this is plain numeric max.
func Max(a, b ID) ID {
	if a > b {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b ID) ID {
	if a < b {
		return a
	}
	return b
}
