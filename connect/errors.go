package connect

import "errors"

// Protocol errors. Everything a peer can get wrong maps onto one of
// these so callers can decide between dropping a message and dropping
// the connection.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnsupported = errors.New("unsupported message")
	ErrTooLarge    = errors.New("message exceeds size limit")
	ErrTooDeep     = errors.New("message nesting exceeds depth limit")
)
