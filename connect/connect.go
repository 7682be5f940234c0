// Package connect provides the simulator side of the bridge: one SimClient
// capability set with an X-Plane UDP implementation, an HTTP gateway client
// for SimConnect-style bridges, and a synthetic demo client.
package connect

import "github.com/pkg/errors"

var (
	ErrNotConnected = errors.New("not connected")
	ErrNotFound     = errors.New("variable not found")
)

// SimClient is the capability set every simulator connection offers.
// Poll refreshes the internal snapshot and never blocks the caller longer
// than a short bounded timeout; SnapshotAll returns the latest cached
// values, empty before the first successful poll.
type SimClient interface {
	Connect() error
	Disconnect() error
	Read(name string) (float64, error)
	Write(name string, value float64) error
	ExecuteCommand(name string) error
	Poll() error
	SnapshotAll() map[string]float64
	String() string
}

// Subscriber is implemented by clients that need per-variable subscriptions
// before values start flowing. Frequency is in updates per second.
type Subscriber interface {
	Subscribe(name string, frequency int32) error
}

// New builds a client for the given simulator kind. The address is the
// simulator endpoint, ignored by the demo client.
func New(kind, address string) (SimClient, error) {
	switch kind {
	case "xplane":
		return NewXPlaneClient(address), nil
	case "bridge":
		return NewBridgeClient(address), nil
	case "demo":
		return NewDemoClient(), nil
	}

	return nil, errors.Errorf("unknown simulator type %q", kind)
}
