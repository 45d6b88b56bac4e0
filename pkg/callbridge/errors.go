package callbridge

import "errors"

var (
	// ErrCallNotFound is returned by takeover requests for an unknown
	// call_uuid; Registry.Get reports absence with a bool instead.
	ErrCallNotFound = errors.New("call not found in registry")

	// ErrMalformedFrame names a telephony WS frame that fails to parse or
	// is missing a required field. No function in this package returns it:
	// the ingress loop logs and skips such frames, and returns
	// ErrFatalFrame after three in a row.
	ErrMalformedFrame = errors.New("malformed telephony frame")

	// ErrFatalFrame signals three consecutive malformed frames, which
	// spec.md §4.1 treats as fatal for the call.
	ErrFatalFrame = errors.New("too many consecutive malformed frames")

	// ErrFirstFrameNotStart is returned when the first telephony frame is
	// not a start event; the call terminates gracefully without ever
	// entering the registry.
	ErrFirstFrameNotStart = errors.New("first telephony frame was not a start event")

	// ErrResourceFailure covers construction-time fatal errors: the
	// recording file could not be opened, or the system instruction
	// could not be fetched.
	ErrResourceFailure = errors.New("fatal resource failure at call construction")

	// ErrTransferRequested signals that the LLM issued
	// transfer_to_human_operator; the session loop should enter its
	// terminal phase without treating this as an error condition.
	ErrTransferRequested = errors.New("transfer to human operator requested")
)
