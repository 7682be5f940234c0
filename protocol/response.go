package protocol

import (
	"strconv"
	"strings"
)

// Response ids boards send on their own; commands share the same id space.
const (
	InfoResponseID = 7
	InputEventID   = 11
)

// Response is one decoded line received from a board.
type Response interface {
	isResponse()
}

// Info is the identity a board reports after a GetInfo command.
type Info struct {
	Name      string
	BoardType string
	Serial    string
	Version   string
}

// InputEvent reports a hardware input change: a button press/release or
// an encoder step. Value is kept raw, its meaning depends on the input kind.
type InputEvent struct {
	Label string
	Value string
}

// Unknown carries any line with an id this package does not classify.
// Unrecognized ids are data, never errors.
type Unknown struct {
	ID   uint8
	Args []string
}

func (*Info) isResponse() {}

func (*InputEvent) isResponse() {}

func (*Unknown) isResponse() {}

// ParseResponse decodes a single line received from a board. Surrounding
// whitespace and one trailing terminator are tolerated. Returns nil when
// the line carries no parsable id.
func ParseResponse(line string) Response {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, ";")
	if len(line) == 0 {
		return nil
	}

	parts := strings.Split(line, ",")
	id, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return nil
	}
	args := parts[1:]

	switch {
	case id == InfoResponseID && len(args) >= 4:
		return &Info{Name: args[0], BoardType: args[1], Serial: args[2], Version: args[3]}
	case id == InputEventID && len(args) >= 2:
		return &InputEvent{Label: args[0], Value: args[1]}
	default:
		return &Unknown{ID: uint8(id), Args: args}
	}
}
