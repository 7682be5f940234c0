package connect

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const demoClientName = "demo"

// DemoClient synthesizes a handful of flight variables from an internal
// counter, so the whole pipeline can run without a simulator: a slowly
// climbing altitude, a gear lever that cycles as the counter wraps and a
// wobbling engine RPM.
type DemoClient struct {
	mu        sync.Mutex
	connected bool
	counter   float64
}

func NewDemoClient() *DemoClient {
	return &DemoClient{}
}

func (d *DemoClient) String() string {
	return demoClientName
}

func (d *DemoClient) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = true
	log.Info("demo simulator connected")

	return nil
}

func (d *DemoClient) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	d.counter = 0
	log.Info("demo simulator disconnected")

	return nil
}

func (d *DemoClient) Read(name string) (float64, error) {
	value, found := d.SnapshotAll()[name]
	if !found {
		return 0, errors.Wrapf(ErrNotFound, "variable %s", name)
	}

	return value, nil
}

func (d *DemoClient) Write(name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return ErrNotConnected
	}

	log.Debug("demo write dropped", "name", name, "value", value)

	return nil
}

func (d *DemoClient) ExecuteCommand(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return ErrNotConnected
	}

	log.Info("demo command executed", "name", name)

	return nil
}

func (d *DemoClient) Poll() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.counter += 0.1
	}

	return nil
}

func (d *DemoClient) SnapshotAll() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	vars := make(map[string]float64)
	if !d.connected {
		return vars
	}

	vars["sim/flightmodel/position/altitude"] = 1000.0 + d.counter
	gear := 0.0
	if math.Mod(d.counter, 20.0) > 10.0 {
		gear = 1.0
	}
	vars["sim/cockpit2/controls/gear_handle_down"] = gear
	vars["sim/flightmodel/engine/ENGN_RPM[0]"] = 2500.0 + math.Sin(d.counter)*100.0

	return vars
}
