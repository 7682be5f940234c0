package drivers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioPanelName = "gpio"

// GpioPanel drives LEDs wired to the host GPIO header.
type GpioPanel struct {
	BoardSerial string
	Pins        []uint16
	Invert      bool

	outputs []gpioOutput
	isReady bool
}

type gpioOutput struct {
	pin    uint8
	invert bool
}

func (gpo gpioOutput) set(state bool) {
	if gpo.invert {
		state = !state
	}
	if state {
		rpio.Pin(gpo.pin).High()
	} else {
		rpio.Pin(gpo.pin).Low()
	}
}

func (gp *GpioPanel) Setup(ctx context.Context) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to setup gpio panel for pins: %v; ", gp.Pins)
	}

	for _, pinNo := range gp.Pins {
		if pinNo > 255 {
			return errors.Errorf("pin out of range (gpio takes uint8 pin)")
		}
		pin := rpio.Pin(pinNo)
		pin.Output()
		gp.outputs = append(gp.outputs, gpioOutput{pin: uint8(pinNo), invert: gp.Invert})
	}

	gp.isReady = true
	return nil
}

func (gp *GpioPanel) SetPin(pin uint16, state bool) error {
	if pin > 255 {
		return errors.Errorf("pin out of range (gpio takes uint8 pin)")
	}
	for _, out := range gp.outputs {
		if out.pin == uint8(pin) {
			out.set(state)
			return nil
		}
	}

	return errors.Errorf("gpio panel output (pin: %d) not found", pin)
}

func (gp *GpioPanel) Serial() string {
	return gp.BoardSerial
}

func (gp *GpioPanel) String() string {
	return gpioPanelName
}

func (gp *GpioPanel) IsReady() bool {
	return gp.isReady
}

func (gp *GpioPanel) Close() error {
	gp.isReady = false
	for _, output := range gp.outputs {
		output.set(false)
	}
	return rpio.Close()
}
