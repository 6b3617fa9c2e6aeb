package fade

import (
	"errors"

	"github.com/dokzlo13/fadectl/internal/light"
)

// Sink accepts one channel value at a time for delivery to the bus. The
// controller never blocks on a sink: implementations must return promptly.
//
// Three outcomes are distinguished:
//   - nil: the value was handed to the bus.
//   - an error matching ErrSinkNotReady: the bus is momentarily unavailable;
//     the transmission round halts at this channel and resumes on a later
//     tick without losing position.
//   - any other error: a single-channel failure; the channel is skipped and
//     the round continues.
type Sink interface {
	SendLightingEvent(param light.Param, value uint8) error
}

// ErrSinkNotReady marks a transient sink condition. Wrap it so errors.Is
// still matches.
var ErrSinkNotReady = errors.New("sink not ready")

var (
	// ErrNotInitialized is returned when a zero-value Controller is used.
	ErrNotInitialized = errors.New("fade controller not initialized")

	// ErrInvalidArgument is returned for absent or malformed fade parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)
