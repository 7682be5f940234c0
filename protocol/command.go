// Package protocol implements the ASCII line protocol spoken by
// MobiFlight-compatible microcontroller boards. Commands go out as
// `<id>[,<arg>...];`, responses come back in the same shape.
package protocol

import "fmt"

// Command is a single instruction for a board. Encode returns the full
// wire form including the trailing terminator.
type Command interface {
	ID() uint8
	Encode() string
}

type Init struct{}

func (Init) ID() uint8        { return 1 }
func (c Init) Encode() string { return fmt.Sprintf("%d;", c.ID()) }

type ResetBoard struct{}

func (ResetBoard) ID() uint8        { return 5 }
func (c ResetBoard) Encode() string { return fmt.Sprintf("%d;", c.ID()) }

type GetInfo struct{}

func (GetInfo) ID() uint8        { return 7 }
func (c GetInfo) Encode() string { return fmt.Sprintf("%d;", c.ID()) }

type GetName struct{}

func (GetName) ID() uint8        { return 8 }
func (c GetName) Encode() string { return fmt.Sprintf("%d;", c.ID()) }

type SetName struct {
	Name string
}

func (SetName) ID() uint8        { return 9 }
func (c SetName) Encode() string { return fmt.Sprintf("%d,%s;", c.ID(), c.Name) }

type GetVersion struct{}

func (GetVersion) ID() uint8        { return 10 }
func (c GetVersion) Encode() string { return fmt.Sprintf("%d;", c.ID()) }

type SetPin struct {
	Pin   uint8
	Value uint8
}

func (SetPin) ID() uint8        { return 3 }
func (c SetPin) Encode() string { return fmt.Sprintf("%d,%d,%d;", c.ID(), c.Pin, c.Value) }

type Set7Segment struct {
	Module uint8
	Index  uint8
	Value  string
}

func (Set7Segment) ID() uint8 { return 15 }
func (c Set7Segment) Encode() string {
	return fmt.Sprintf("%d,%d,%d,%s;", c.ID(), c.Module, c.Index, c.Value)
}

type SetLCD struct {
	Display uint8
	Line    uint8
	Text    string
}

func (SetLCD) ID() uint8 { return 16 }
func (c SetLCD) Encode() string {
	return fmt.Sprintf("%d,%d,%d,%s;", c.ID(), c.Display, c.Line, c.Text)
}

// SetStepper moves a stepper motor, negative steps reverse the direction.
type SetStepper struct {
	Motor uint8
	Steps int32
}

func (SetStepper) ID() uint8 { return 17 }
func (c SetStepper) Encode() string {
	return fmt.Sprintf("%d,%d,%d;", c.ID(), c.Motor, c.Steps)
}

type SetRGB struct {
	Led uint8
	R   uint8
	G   uint8
	B   uint8
}

func (SetRGB) ID() uint8 { return 18 }
func (c SetRGB) Encode() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d;", c.ID(), c.Led, c.R, c.G, c.B)
}
