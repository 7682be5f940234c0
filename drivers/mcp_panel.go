package drivers

import (
	"context"
	"fmt"

	"github.com/racerxdl/go-mcp23017"
)

const mcpPanelName = "mcpio"

// McpPanel drives outputs on an MCP23017 port expander over i2c.
type McpPanel struct {
	device *mcp23017.Device

	outputs []mcpOutput
	isReady bool

	BoardSerial string
	BusNo       uint8
	DevNo       uint8
	Pins        []uint16
	Invert      bool
}

type mcpOutput struct {
	pin    uint8
	invert bool

	device *mcp23017.Device
}

func (mout mcpOutput) set(state bool) (err error) {
	if mout.invert {
		state = !state
	}

	err = mout.device.DigitalWrite(mout.pin, mcp23017.PinLevel(state))

	return
}

func (mcp *McpPanel) Setup(ctx context.Context) (err error) {
	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		return
	}

	for _, outputPin := range mcp.Pins {
		if outputPin > 255 {
			err = fmt.Errorf("output pin out of range (mcpio takes uint8 pin id)")
			return
		}
		err = mcp.device.PinMode(uint8(outputPin), mcp23017.OUTPUT)
		if err != nil {
			return
		}
		mcp.outputs = append(mcp.outputs, mcpOutput{pin: uint8(outputPin), invert: mcp.Invert, device: mcp.device})
	}

	mcp.isReady = err == nil

	return
}

func (mcp *McpPanel) SetPin(pin uint16, state bool) error {
	for _, out := range mcp.outputs {
		if out.pin == uint8(pin) {
			return out.set(state)
		}
	}

	return fmt.Errorf("mcp panel output (pin: %d) not found", pin)
}

func (mcp *McpPanel) Serial() string {
	return mcp.BoardSerial
}

func (mcp *McpPanel) String() string {
	return mcpPanelName
}

func (mcp *McpPanel) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpPanel) Close() error {
	mcp.isReady = false
	for _, output := range mcp.outputs {
		output.set(false)
	}
	return mcp.device.Close()
}
