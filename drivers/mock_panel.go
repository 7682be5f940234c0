package drivers

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type mockOutput struct {
	state            bool
	pin              uint16
	writeTo          io.Writer
	writeStateChange bool
}

// MockPanel keeps pin states in memory and can narrate changes to a writer.
// Stands in for real panel hardware in demos and tests.
type MockPanel struct {
	BoardSerial string
	Pins        []uint16

	mu      sync.Mutex
	outputs []*mockOutput
	ready   bool
}

func (mp *MockPanel) Setup(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, outPin := range mp.Pins {
		mp.outputs = append(mp.outputs, &mockOutput{pin: outPin})
	}
	mp.ready = true

	return nil
}

func (mp *MockPanel) SetPin(pin uint16, state bool) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, output := range mp.outputs {
		if output.pin == pin {
			if output.writeStateChange && state != output.state {
				fmt.Fprintf(output.writeTo, "[pin %d] state changed to %v\n", output.pin, state)
			}
			output.state = state
			return nil
		}
	}

	return fmt.Errorf("mock output %d not found", pin)
}

// PinState reports the last value written to a pin.
func (mp *MockPanel) PinState(pin uint16) (bool, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, output := range mp.outputs {
		if output.pin == pin {
			return output.state, nil
		}
	}

	return false, fmt.Errorf("mock output %d not found", pin)
}

// MonitorStateChanges makes every future state flip print a line to writer.
func (mp *MockPanel) MonitorStateChanges(writer io.Writer) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, out := range mp.outputs {
		out.writeTo = writer
		out.writeStateChange = true
	}
}

func (mp *MockPanel) Serial() string {
	return mp.BoardSerial
}

func (mp *MockPanel) String() string {
	return "mock_panel"
}

func (mp *MockPanel) IsReady() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.ready
}

func (mp *MockPanel) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.ready = false

	return nil
}
