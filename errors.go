package uucp

import "github.com/openuucp/gouucp/pkg/uucperrors"

// Re-exported at the root so callers of Session/Dial/Listen can use
// errors.Is against a single uucp.ErrXxx set without importing
// pkg/uucperrors directly, mirroring the teacher's flat package-level
// error-variable style.
var (
	ErrChannel        = uucperrors.ErrChannel
	ErrProtocolDecode = uucperrors.ErrProtocolDecode
	ErrTimeout        = uucperrors.ErrTimeout
	ErrPeerRefusal    = uucperrors.ErrPeerRefusal
	ErrSpoolSend      = uucperrors.ErrSpoolSend
	ErrSpoolReceive   = uucperrors.ErrSpoolReceive
	ErrSignalAbort    = uucperrors.ErrSignalAbort
	ErrConfigInvalid  = uucperrors.ErrConfigInvalid
)
