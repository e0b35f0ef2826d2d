// Package uucperrors enumerates the eight error kinds spec §7 propagates
// through a session, in the teacher's flat sentinel-error style
// (errors.go's package-level errors.New var block) rather than a typed
// hierarchy.
package uucperrors

import "errors"

var (
	// ErrChannel is fatal: the underlying transport is gone. Counted
	// against ustats_failed, never retried within the session.
	ErrChannel = errors.New("uucp: channel I/O failed")
	// ErrProtocolDecode is counted against a protocol's per-session
	// decode-error ceiling (spec §4.2.1).
	ErrProtocolDecode = errors.New("uucp: protocol decode error")
	// ErrTimeout is counted against the job's retry budget.
	ErrTimeout = errors.New("uucp: operation timed out")
	// ErrPeerRefusal wraps a negative SN/RN/XN reply; the caller
	// inspects the attached command.ReplyCode to decide mail-and-drop
	// versus retry-next-session versus silent success.
	ErrPeerRefusal = errors.New("uucp: peer refused the request")
	// ErrSpoolSend is a local spool failure while sending: mail the
	// requesting user, delete the job.
	ErrSpoolSend = errors.New("uucp: local spool error sending file")
	// ErrSpoolReceive is a local spool failure while receiving: abort
	// the session without acking, so the peer retries on its own.
	ErrSpoolReceive = errors.New("uucp: local spool error receiving file")
	// ErrSignalAbort distinguishes SIGINT (quiesce, finish in-flight
	// work) from any other signal (abort immediately).
	ErrSignalAbort = errors.New("uucp: session aborted by signal")
	// ErrConfigInvalid is fatal at session start, before any channel
	// activity.
	ErrConfigInvalid = errors.New("uucp: invalid configuration")
)
