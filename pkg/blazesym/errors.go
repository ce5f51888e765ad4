package blazesym

import (
	"errors"
)

// ErrUnresolved reports an address that did not match any loaded
// object. Symbolize never returns it for individual addresses (those
// yield empty result lists), and no other function of this package
// returns it.
var ErrUnresolved = errors.New("address does not match any loaded object")

// ErrClosed reports use of a symbolizer after Close.
var ErrClosed = errors.New("symbolizer is closed")
