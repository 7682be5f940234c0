package connect

import (
	"testing"

	"github.com/pkg/errors"
)

func TestDemoClientLifecycle(t *testing.T) {
	client := NewDemoClient()

	if vars := client.SnapshotAll(); len(vars) != 0 {
		t.Errorf("disconnected snapshot must be empty, got %v", vars)
	}

	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	vars := client.SnapshotAll()
	for _, name := range []string{"sim/flightmodel/position/altitude", "sim/cockpit2/controls/gear_handle_down", "sim/flightmodel/engine/ENGN_RPM[0]"} {
		if _, ok := vars[name]; !ok {
			t.Errorf("missing variable %s", name)
		}
	}

	first, err := client.Read("sim/flightmodel/position/altitude")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := client.Poll(); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
	}

	second, err := client.Read("sim/flightmodel/position/altitude")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if second <= first {
		t.Errorf("altitude did not climb: %v -> %v", first, second)
	}

	if _, err := client.Read("no/such/variable"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v want ErrNotFound", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if vars := client.SnapshotAll(); len(vars) != 0 {
		t.Errorf("snapshot after disconnect must be empty, got %v", vars)
	}
}

func TestDemoClientRejectsWhenDisconnected(t *testing.T) {
	client := NewDemoClient()

	if err := client.Write("sim/whatever", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("write: got %v want ErrNotConnected", err)
	}
	if err := client.ExecuteCommand("sim/whatever"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("command: got %v want ErrNotConnected", err)
	}
}
