// Package light defines the five-channel lighting state shared by the fade
// controller, the scene catalog and the LCC transport.
package light

// Param identifies one of the five independently faded channels. The numeric
// values match the parameter index carried on the bus, so they must not be
// reordered.
type Param int

const (
	ParamRed Param = iota
	ParamGreen
	ParamBlue
	ParamWhite
	ParamBrightness

	// ParamCount is the number of faded channels.
	ParamCount = 5
)

// TxOrder is the fixed transmission order within a round: brightness first,
// then red, green, blue, white.
var TxOrder = [ParamCount]Param{ParamBrightness, ParamRed, ParamGreen, ParamBlue, ParamWhite}

// String returns a short human-readable channel name.
func (p Param) String() string {
	switch p {
	case ParamRed:
		return "red"
	case ParamGreen:
		return "green"
	case ParamBlue:
		return "blue"
	case ParamWhite:
		return "white"
	case ParamBrightness:
		return "brightness"
	default:
		return "unknown"
	}
}

// Valid reports whether p names an existing channel.
func (p Param) Valid() bool {
	return p >= 0 && p < ParamCount
}

// State is a snapshot of the five channel values. It is always passed by
// value; the controller never hands out a live reference to its session.
type State struct {
	Brightness uint8 `json:"brightness" yaml:"brightness"`
	Red        uint8 `json:"red" yaml:"red"`
	Green      uint8 `json:"green" yaml:"green"`
	Blue       uint8 `json:"blue" yaml:"blue"`
	White      uint8 `json:"white" yaml:"white"`
}

// Param returns the value of the given channel. Out-of-range params return 0;
// channel indices are internally generated, so this is a defensive fallback
// rather than a reachable error path.
func (s State) Param(p Param) uint8 {
	switch p {
	case ParamRed:
		return s.Red
	case ParamGreen:
		return s.Green
	case ParamBlue:
		return s.Blue
	case ParamWhite:
		return s.White
	case ParamBrightness:
		return s.Brightness
	default:
		return 0
	}
}

// SetParam sets the value of the given channel. Out-of-range params are a
// no-op.
func (s *State) SetParam(p Param, v uint8) {
	switch p {
	case ParamRed:
		s.Red = v
	case ParamGreen:
		s.Green = v
	case ParamBlue:
		s.Blue = v
	case ParamWhite:
		s.White = v
	case ParamBrightness:
		s.Brightness = v
	}
}
