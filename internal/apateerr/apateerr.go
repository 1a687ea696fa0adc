// Package apateerr defines the error taxonomy shared across apate's core
// components: ConfigError, StorageError, TransportError, ProtocolError, and
// the sentinel NotFound/Timeout values. Mirrors the teacher's flat
// errors.New/fmt.Errorf("%w", ...) style rather than introducing a generic
// error-code framework.
package apateerr

import "errors"

// ErrNotFound is returned by lookups that miss — it is an ordinary result,
// not a failure; callers compare with errors.Is.
var ErrNotFound = errors.New("apate: not found")

// ErrTimeout indicates a per-operation budget (gateway fetch, embedding call,
// LLM call) was exceeded.
var ErrTimeout = errors.New("apate: timed out")

// ConfigError wraps a fatal configuration problem. Config errors propagate to
// process exit; they are the one taxonomy member that is never locally
// recovered.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return "config: " + e.Path + ": " + e.Err.Error()
	}
	return "config: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError wraps a database open/read/write failure. Surfaced to the
// caller and logged; never fatal on its own.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// TransportError wraps an HTTP failure talking to the LLM or embedding
// endpoint. The LLM client captures transport failures in its Response
// (ResponseOK=false) instead of returning this type; the embedding client
// returns it as a real error.
type TransportError struct {
	Endpoint string
	HTTPCode int
	Err      error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Endpoint + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps malformed JSON from the LLM or embedding service.
// Treated as a TransportError at the caller site per the spec.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Endpoint + ": " + e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }
