package feed

import "errors"

// Error kinds surfaced through OnError. Callers can classify with errors.Is.
//
// Transport failures are recoverable: the reaper redials the group on its
// next tick. Parse and unknown-kind failures drop the offending event and
// leave the socket up. Configuration failures mean a dial was requested for
// a group the registry no longer knows; the reaper simply tries again.
var (
	ErrTransport        = errors.New("transport failure")
	ErrParse            = errors.New("parse failure")
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrConfiguration    = errors.New("configuration error")
)
