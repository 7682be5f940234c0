// Package openflite bridges cockpit hardware to flight simulators: it scans
// for MobiFlight-compatible boards on serial ports, holds one simulator
// connection and maps data both ways through a fixed-rate loop.
package openflite

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/openflite/openflite/connect"
	"github.com/openflite/openflite/drivers"
	"github.com/openflite/openflite/mapping"
	"github.com/openflite/openflite/protocol"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultScanInterval = 2 * time.Second

	subscribeFrequency = 20

	eventBuffer = 16
)

type EventKind string

const (
	EventDeviceDetected  EventKind = "device_detected"
	EventSimConnected    EventKind = "sim_connected"
	EventSimDisconnected EventKind = "sim_disconnected"
	EventVariableChanged EventKind = "variable_changed"
	EventCommandSent     EventKind = "command_sent"
)

// Event is broadcast to subscribers on lifecycle and data changes. Value
// carries a number for variable changes and is zero otherwise.
type Event struct {
	Kind  EventKind `json:"kind"`
	Name  string    `json:"name,omitempty"`
	Value float64   `json:"value,omitempty"`
}

type taggedResponse struct {
	device string
	resp   protocol.Response
}

// Core owns the attached devices, the active simulator connector and the
// loaded mapping rules. Configure the exported fields, call Init, then Run.
type Core struct {
	SimType      string        `mapstructure:"sim_type" json:"sim_type"`
	SimAddress   string        `mapstructure:"sim_address" json:"sim_address"`
	ProjectFile  string        `mapstructure:"project_file" json:"project_file"`
	TickInterval time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
	ScanInterval time.Duration `mapstructure:"scan_interval" json:"scan_interval"`
	DisableScan  bool          `mapstructure:"disable_scan" json:"disable_scan"`

	GpioPanel *drivers.GpioPanel `mapstructure:"gpio_panel" json:"gpio_panel"`
	McpPanel  *drivers.McpPanel  `mapstructure:"mcp_panel" json:"mcp_panel"`
	MockPanel *drivers.MockPanel `mapstructure:"mock_panel" json:"mock_panel"`

	devMu   sync.Mutex
	devices map[string]*Device

	panels []drivers.OutputPanel

	simMu sync.Mutex
	sim   connect.SimClient

	engineMu sync.Mutex
	engine   *mapping.Engine

	injectMu sync.Mutex
	injected []taggedResponse

	subMu       sync.Mutex
	subscribers []chan Event
}

// Init applies defaults, brings up the configured panels and, when config
// names them, loads the project file and connects the simulator. A missing
// simulator is not fatal, it can come up later.
func (c *Core) Init() error {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	c.devices = make(map[string]*Device)

	for _, panel := range c.configuredPanels() {
		if err := panel.Setup(context.Background()); err != nil {
			return errors.Wrapf(err, "failed to setup %s panel", panel)
		}
		c.panels = append(c.panels, panel)
		log.Info("output panel ready", "panel", panel.String(), "serial", panel.Serial())
	}

	if c.ProjectFile != "" {
		if err := c.LoadProjectFile(c.ProjectFile); err != nil {
			return err
		}
	}

	if c.SimType != "" {
		client, err := c.buildSimClient()
		if err != nil {
			return err
		}
		if err := c.SetSimClient(client); err != nil {
			log.Warn("simulator not reachable yet", "sim", c.SimType, "err", err)
		}
	}

	return nil
}

func (c *Core) configuredPanels() (panels []drivers.OutputPanel) {
	if c.GpioPanel != nil {
		panels = append(panels, c.GpioPanel)
	}
	if c.McpPanel != nil {
		panels = append(panels, c.McpPanel)
	}
	if c.MockPanel != nil {
		panels = append(panels, c.MockPanel)
	}

	return
}

func (c *Core) buildSimClient() (connect.SimClient, error) {
	return connect.New(c.SimType, c.SimAddress)
}

// Run blocks, driving the mapping loop and the port scanner until the
// context is cancelled.
func (c *Core) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.TickInterval)
	defer ticker.Stop()
	scanTicker := time.NewTicker(c.ScanInterval)
	defer scanTicker.Stop()

	if !c.DisableScan {
		c.scanDevices()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick()
		case <-scanTicker.C:
			if !c.DisableScan {
				c.scanDevices()
			}
		}
	}
}

func (c *Core) tick() {
	responses := c.collectHardwareEvents()
	actions := c.syncSimulation(responses)
	c.applyHardwareActions(actions)
}

// collectHardwareEvents drains injected responses first, then takes at most
// one pending event per attached device.
func (c *Core) collectHardwareEvents() []taggedResponse {
	c.injectMu.Lock()
	responses := c.injected
	c.injected = nil
	c.injectMu.Unlock()

	c.devMu.Lock()
	defer c.devMu.Unlock()
	for _, dev := range c.devices {
		if resp := dev.PollEvent(); resp != nil {
			responses = append(responses, taggedResponse{device: dev.Name, resp: resp})
		}
	}

	return responses
}

// syncSimulation refreshes the connector, evaluates output rules against
// the fresh snapshot and dispatches the simulator actions the hardware
// events map to. Dispatch is fire-and-forget: failures are logged, never
// stop the tick.
func (c *Core) syncSimulation(responses []taggedResponse) []mapping.HardwareAction {
	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()
	if sim == nil {
		return nil
	}

	if err := sim.Poll(); err != nil {
		log.Debug("connector poll failed", "err", err)
	}

	c.engineMu.Lock()
	engine := c.engine
	c.engineMu.Unlock()
	if engine == nil {
		return nil
	}

	actions := engine.ProcessOutputs(sim.SnapshotAll())

	for _, tagged := range responses {
		if input, isInput := tagged.resp.(*protocol.InputEvent); isInput {
			c.broadcast(Event{
				Kind:  EventVariableChanged,
				Name:  tagged.device + ":" + input.Label,
				Value: parseEventValue(input.Value),
			})
		}

		for _, action := range engine.ProcessInputs(tagged.resp) {
			switch a := action.(type) {
			case *mapping.ExecuteCommand:
				if err := sim.ExecuteCommand(a.Name); err != nil {
					log.Warn("command dispatch failed", "command", a.Name, "err", err)
				} else {
					c.broadcast(Event{Kind: EventCommandSent, Name: a.Name})
				}
			case *mapping.WriteVariable:
				if err := sim.Write(a.Name, a.Value); err != nil {
					log.Warn("variable write failed", "variable", a.Name, "err", err)
				}
			}
		}
	}

	return actions
}

// applyHardwareActions routes actions to local panels or serial boards by
// their target serial. Actions addressed to nobody are skipped, the board
// may simply not be plugged in yet.
func (c *Core) applyHardwareActions(actions []mapping.HardwareAction) {
	for _, action := range actions {
		if panel := c.panelFor(action.Target()); panel != nil {
			pin, isSetPin := action.(*mapping.SetPin)
			if !isSetPin {
				log.Debug("panel supports pin actions only", "panel", panel.String(), "action", fmt.Sprintf("%T", action))
				continue
			}
			if err := panel.SetPin(uint16(pin.Pin), pin.Value != 0); err != nil {
				log.Warn("panel action failed", "panel", panel.String(), "err", err)
			}
			continue
		}

		dev := c.deviceBySerial(action.Target())
		if dev == nil {
			continue
		}

		var err error
		switch a := action.(type) {
		case *mapping.SetPin:
			err = dev.SetPin(a.Pin, clampPinValue(a.Value))
		case *mapping.SetSevenSegment:
			err = dev.Set7Segment(a.Module, a.Index, a.Text)
		case *mapping.SetLCD:
			err = dev.SetLCD(a.Display, a.Line, a.Text)
		}
		if err != nil {
			log.Warn("hardware action failed", "device", dev.Name, "err", err)
		}
	}
}

func (c *Core) panelFor(serial string) drivers.OutputPanel {
	for _, panel := range c.panels {
		if panel.IsReady() && panel.Serial() == serial {
			return panel
		}
	}

	return nil
}

func (c *Core) deviceBySerial(serial string) *Device {
	c.devMu.Lock()
	defer c.devMu.Unlock()

	for _, dev := range c.devices {
		if dev.Serial == serial {
			return dev
		}
	}

	return nil
}

// Scan walks the serial ports once, attaching every board that answers
// the identity query. Ports already tracked are left alone.
func (c *Core) Scan() {
	c.scanDevices()
}

func (c *Core) scanDevices() {
	ports, err := ScanPorts()
	if err != nil {
		log.Debug("serial scan failed", "err", err)
		return
	}

	for _, port := range ports {
		c.devMu.Lock()
		_, tracked := c.devices[port]
		c.devMu.Unlock()
		if tracked {
			continue
		}

		dev, err := OpenDevice(port)
		if err != nil {
			log.Debug("skipping port", "port", port, "err", err)
			continue
		}
		c.AttachDevice(dev)
	}
}

// AttachDevice adds an already open device to the managed set.
func (c *Core) AttachDevice(dev *Device) {
	c.devMu.Lock()
	c.devices[dev.PortName] = dev
	c.devMu.Unlock()

	log.Info("device attached", "name", dev.Name, "board", dev.BoardType, "serial", dev.Serial, "port", dev.PortName)
	c.broadcast(Event{Kind: EventDeviceDetected, Name: dev.Name})
}

// SetSimClient connects the client and, only on success, makes it the
// active connector. A failed connect leaves the previous connector in place.
func (c *Core) SetSimClient(client connect.SimClient) error {
	if err := client.Connect(); err != nil {
		return errors.Wrapf(err, "failed to connect %s client", client)
	}

	c.simMu.Lock()
	c.sim = client
	c.simMu.Unlock()

	c.engineMu.Lock()
	engine := c.engine
	c.engineMu.Unlock()
	subscribeSources(client, engine)

	log.Info("simulator connected", "sim", client.String())
	c.broadcast(Event{Kind: EventSimConnected, Name: client.String()})

	return nil
}

// DisconnectSim drops the active connector, if any.
func (c *Core) DisconnectSim() {
	c.simMu.Lock()
	sim := c.sim
	c.sim = nil
	c.simMu.Unlock()

	if sim == nil {
		return
	}
	if err := sim.Disconnect(); err != nil {
		log.Warn("disconnect failed", "sim", sim.String(), "err", err)
	}

	log.Info("simulator disconnected", "sim", sim.String())
	c.broadcast(Event{Kind: EventSimDisconnected})
}

// LoadProject parses mapping rules and swaps them in wholesale.
func (c *Core) LoadProject(content []byte) error {
	project, err := mapping.ParseProject(content)
	if err != nil {
		return err
	}

	engine := mapping.NewEngine(project)
	c.engineMu.Lock()
	c.engine = engine
	c.engineMu.Unlock()

	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()
	subscribeSources(sim, engine)

	log.Info("project loaded", "outputs", len(project.Outputs.Rules), "inputs", len(project.Inputs.Rules))

	return nil
}

func (c *Core) LoadProjectFile(path string) error {
	project, err := mapping.LoadProjectFile(path)
	if err != nil {
		return err
	}

	engine := mapping.NewEngine(project)
	c.engineMu.Lock()
	c.engine = engine
	c.engineMu.Unlock()

	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()
	subscribeSources(sim, engine)

	log.Info("project loaded", "file", path, "outputs", len(project.Outputs.Rules), "inputs", len(project.Inputs.Rules))

	return nil
}

// subscribeSources registers the output rule variables on connectors that
// need explicit subscriptions to start streaming them.
func subscribeSources(client connect.SimClient, engine *mapping.Engine) {
	if client == nil || engine == nil {
		return
	}
	subscriber, needsSubscribe := client.(connect.Subscriber)
	if !needsSubscribe {
		return
	}

	for _, name := range engine.SourceVariables() {
		if err := subscriber.Subscribe(name, subscribeFrequency); err != nil {
			log.Warn("subscribe failed", "variable", name, "err", err)
		}
	}
}

// InjectResponse queues a response as if the named device had sent it. The
// next tick picks it up before any real device event.
func (c *Core) InjectResponse(device string, resp protocol.Response) {
	if resp == nil {
		return
	}

	c.injectMu.Lock()
	defer c.injectMu.Unlock()
	c.injected = append(c.injected, taggedResponse{device: device, resp: resp})
}

// Subscribe returns a channel of broadcast events. Slow consumers lose
// events instead of stalling the loop.
func (c *Core) Subscribe() <-chan Event {
	events := make(chan Event, eventBuffer)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, events)

	return events
}

// Unsubscribe removes and closes a channel obtained from Subscribe.
func (c *Core) Unsubscribe(events <-chan Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for i, sub := range c.subscribers {
		if sub == events {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (c *Core) broadcast(event Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// Devices lists the attached boards as "name (type)" labels.
func (c *Core) Devices() []string {
	c.devMu.Lock()
	defer c.devMu.Unlock()

	var labels []string
	for _, dev := range c.devices {
		labels = append(labels, dev.String())
	}

	return labels
}

// Variables returns the latest simulator snapshot, empty without an active
// connector.
func (c *Core) Variables() map[string]float64 {
	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()

	if sim == nil {
		return map[string]float64{}
	}

	return sim.SnapshotAll()
}

// SimName returns the active connector name, empty when disconnected.
func (c *Core) SimName() string {
	c.simMu.Lock()
	defer c.simMu.Unlock()

	if c.sim == nil {
		return ""
	}

	return c.sim.String()
}

// ExecuteCommand triggers a simulator command outside the mapping loop.
func (c *Core) ExecuteCommand(name string) error {
	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()

	if sim == nil {
		return connect.ErrNotConnected
	}
	if err := sim.ExecuteCommand(name); err != nil {
		return err
	}
	c.broadcast(Event{Kind: EventCommandSent, Name: name})

	return nil
}

// WriteVariable sets a simulator variable outside the mapping loop.
func (c *Core) WriteVariable(name string, value float64) error {
	c.simMu.Lock()
	sim := c.sim
	c.simMu.Unlock()

	if sim == nil {
		return connect.ErrNotConnected
	}

	return sim.Write(name, value)
}

func (c *Core) Close() (err error) {
	c.devMu.Lock()
	for _, dev := range c.devices {
		if closeErr := dev.Close(); closeErr != nil {
			err = accumulate(err, closeErr)
		}
	}
	c.devMu.Unlock()

	for _, panel := range c.panels {
		if closeErr := panel.Close(); closeErr != nil {
			err = accumulate(err, closeErr)
		}
	}

	c.DisconnectSim()

	return
}

func accumulate(err, closeErr error) error {
	if err == nil {
		return closeErr
	}

	return errors.Wrap(err, closeErr.Error())
}

// PrintStatus writes a human readable summary of the bridge state.
func (c *Core) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== attached devices ===")
	c.devMu.Lock()
	for _, dev := range c.devices {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| device: %s\n", dev)
		fmt.Fprintf(writer, "| serial: %s version: %s port: %s\n", dev.Serial, dev.Version, dev.PortName)
	}
	c.devMu.Unlock()

	fmt.Fprintln(writer, "=== output panels ===")
	for _, panel := range c.panels {
		fmt.Fprintf(writer, "| panel: %s serial: %s ready: %v\n", panel, panel.Serial(), panel.IsReady())
	}

	fmt.Fprintln(writer, "=== simulator ===")
	if name := c.SimName(); name != "" {
		fmt.Fprintf(writer, "| connected: %s, %d variables\n", name, len(c.Variables()))
	} else {
		fmt.Fprintln(writer, "| not connected")
	}
}

func parseEventValue(raw string) float64 {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}

	return value
}

func clampPinValue(value int) uint8 {
	if value < 0 {
		return 0
	}
	if value > 255 {
		return 255
	}

	return uint8(value)
}
