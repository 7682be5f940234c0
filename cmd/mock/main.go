package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/openflite/openflite"
	"github.com/openflite/openflite/drivers"
	"github.com/openflite/openflite/mockboard"
)

var (
	Version string
	Build   string
)

// mockProjectXML drives the demo variables onto both output surfaces: the
// altitude LED sits on the mock panel, gear state and engine RPM go to the
// emulated board.
const mockProjectXML = `<MobiFlightProject>
    <Outputs>
        <Config guid="mock-altitude" active="true">
            <Description>Altitude LED</Description>
            <Settings>
                <Source type="XPLANE" name="sim/flightmodel/position/altitude" />
                <Comparison active="true" value="1050" operand="&gt;" ifValue="1" elseValue="0" />
                <Display type="Pin" serial="PANEL" trigger="OnChange" pin="13" />
            </Settings>
        </Config>
        <Config guid="mock-gear" active="true">
            <Description>Gear handle lamp</Description>
            <Settings>
                <Source type="XPLANE" name="sim/cockpit2/controls/gear_handle_down" />
                <Display type="Pin" serial="DEMO-BOARD" trigger="OnChange" pin="5" />
            </Settings>
        </Config>
        <Config guid="mock-rpm" active="true">
            <Description>Engine RPM readout</Description>
            <Settings>
                <Source type="XPLANE" name="sim/flightmodel/engine/ENGN_RPM[0]" />
                <Display type="LCD" serial="DEMO-BOARD" trigger="OnChange" pin="0" />
            </Settings>
        </Config>
    </Outputs>
    <Inputs>
        <Config guid="mock-gear-button" active="true">
            <Description>GearToggle</Description>
            <Settings>
                <Button>
                    <OnPress type="XplaneAction" cmd="sim/annunciator/gear_unsafe" />
                </Button>
            </Settings>
        </Config>
        <Config guid="mock-heading-dial" active="true">
            <Description>HeadingDial</Description>
            <Settings>
                <Encoder>
                    <OnLeft type="XplaneAction" cmd="sim/autopilot/heading_down" />
                    <OnRight type="XplaneAction" cmd="sim/autopilot/heading_up" />
                </Encoder>
            </Settings>
        </Config>
    </Inputs>
</MobiFlightProject>
`

func main() {
	log.SetLevel(log.DebugLevel)
	log.Info("openflite mock instance starting", "version", Version)
	log.Info("everything runs in memory, no serial ports or simulator needed")

	core := &openflite.Core{
		SimType:      "demo",
		DisableScan:  true,
		TickInterval: 100 * time.Millisecond,
		MockPanel:    &drivers.MockPanel{BoardSerial: "PANEL", Pins: []uint16{13}},
	}

	if err := core.Init(); err != nil {
		log.Fatal("bridge init failed", "err", err)
	}
	defer core.Close()

	if err := core.LoadProject([]byte(mockProjectXML)); err != nil {
		log.Fatal("mock project load failed", "err", err)
	}

	board := &mockboard.Board{
		Name:      "Demo Board",
		BoardType: "Mega",
		Serial:    "DEMO-BOARD",
		Version:   "1.0.0",
	}
	dev, err := openflite.NewDeviceOn(board.Start(), "mock0")
	if err != nil {
		log.Fatal("mock board attach failed", "err", err)
	}
	core.AttachDevice(dev)

	core.MockPanel.MonitorStateChanges(os.Stdout)

	events := core.Subscribe()
	go func() {
		for event := range events {
			log.Info("event", "kind", event.Kind, "name", event.Name, "value", event.Value)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go pressButtons(ctx, board)

	core.PrintStatus(os.Stdout)

	if err := core.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("bridge stopped", "err", err)
	}

	core.PrintStatus(os.Stdout)
	log.Info("mock instance shutting down")
}

// pressButtons plays pilot: cycles the gear toggle and clicks the heading
// dial a step right every few seconds.
func pressButtons(ctx context.Context, board *mockboard.Board) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	gear := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gear = !gear
			if gear {
				board.EmitInput("GearToggle", "1")
			} else {
				board.EmitInput("GearToggle", "0")
			}
			board.EmitInput("HeadingDial", "1")
		}
	}
}
