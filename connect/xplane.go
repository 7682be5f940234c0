package connect

import (
	"bytes"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const xplaneClientName = "xplane"

const (
	subscribeFrameLen = 413
	writeFrameLen     = 509
	commandFrameLen   = 505
)

// XPlaneClient speaks the X-Plane UDP dataref protocol: RREF subscriptions
// bring values in, DREF frames write values back, CMND frames trigger
// simulator commands. All frames are fixed size, zero padded.
type XPlaneClient struct {
	Address string

	conn   *net.UDPConn
	remote *net.UDPAddr

	mu            sync.Mutex
	cache         map[string]float64
	subscriptions map[string]int32
}

func NewXPlaneClient(address string) *XPlaneClient {
	return &XPlaneClient{
		Address:       address,
		cache:         make(map[string]float64),
		subscriptions: make(map[string]int32),
	}
}

func (x *XPlaneClient) String() string {
	return xplaneClientName
}

func (x *XPlaneClient) Connect() error {
	remote, err := net.ResolveUDPAddr("udp", x.Address)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve simulator address (%s)", x.Address)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return errors.Wrap(err, "failed to bind local udp socket")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.remote = remote
	x.conn = conn
	if x.cache == nil {
		x.cache = make(map[string]float64)
	}
	if x.subscriptions == nil {
		x.subscriptions = make(map[string]int32)
	}

	return nil
}

func (x *XPlaneClient) Disconnect() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return nil
	}

	err := x.conn.Close()
	x.conn = nil
	x.subscriptions = make(map[string]int32)
	x.cache = make(map[string]float64)

	return err
}

// Subscribe asks the simulator to stream a dataref. The first subscription
// of a name assigns the next free index; repeating a name reuses its index,
// so resubscribing after a config reload is harmless.
func (x *XPlaneClient) Subscribe(name string, frequency int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return ErrNotConnected
	}

	index, known := x.subscriptions[name]
	if !known {
		index = int32(len(x.subscriptions)) + 1
		x.subscriptions[name] = index
	}

	var frame [subscribeFrameLen]byte
	copy(frame[0:4], "RREF")
	binary.LittleEndian.PutUint32(frame[5:9], uint32(frequency))
	binary.LittleEndian.PutUint32(frame[9:13], uint32(index))
	copy(frame[13:], name)

	_, err := x.conn.WriteToUDP(frame[:], x.remote)
	if err != nil {
		return errors.Wrapf(err, "failed to send subscribe frame for %s", name)
	}

	return nil
}

// Subscriptions returns a copy of the active dataref index table.
func (x *XPlaneClient) Subscriptions() map[string]int32 {
	x.mu.Lock()
	defer x.mu.Unlock()

	subs := make(map[string]int32, len(x.subscriptions))
	for name, index := range x.subscriptions {
		subs[name] = index
	}

	return subs
}

func (x *XPlaneClient) Read(name string) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	value, found := x.cache[name]
	if !found {
		return 0, errors.Wrapf(ErrNotFound, "variable %s not received yet", name)
	}

	return value, nil
}

func (x *XPlaneClient) Write(name string, value float64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return ErrNotConnected
	}

	var frame [writeFrameLen]byte
	copy(frame[0:4], "DREF")
	binary.LittleEndian.PutUint32(frame[5:9], math.Float32bits(float32(value)))
	copy(frame[9:], name)

	_, err := x.conn.WriteToUDP(frame[:], x.remote)
	if err != nil {
		return errors.Wrapf(err, "failed to send write frame for %s", name)
	}

	return nil
}

func (x *XPlaneClient) ExecuteCommand(name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return ErrNotConnected
	}

	var frame [commandFrameLen]byte
	copy(frame[0:4], "CMND")
	copy(frame[5:], name)

	_, err := x.conn.WriteToUDP(frame[:], x.remote)
	if err != nil {
		return errors.Wrapf(err, "failed to send command frame for %s", name)
	}

	return nil
}

// Poll drains every datagram currently queued on the socket without
// blocking and folds RREF records into the snapshot.
func (x *XPlaneClient) Poll() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return ErrNotConnected
	}

	x.conn.SetReadDeadline(time.Now())

	buf := make([]byte, 4096)
	for {
		n, _, err := x.conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		x.consumeFrame(buf[:n])
	}

	return nil
}

func (x *XPlaneClient) consumeFrame(frame []byte) {
	if len(frame) < 5 || !bytes.Equal(frame[0:4], []byte("RREF")) {
		return
	}

	for pos := 5; pos+8 <= len(frame); pos += 8 {
		index := int32(binary.LittleEndian.Uint32(frame[pos : pos+4]))
		value := math.Float32frombits(binary.LittleEndian.Uint32(frame[pos+4 : pos+8]))

		name, known := x.nameForIndex(index)
		if !known {
			// records for indices we never subscribed are expected
			// noise, drop them
			continue
		}
		x.cache[name] = float64(value)
	}
}

// nameForIndex walks the table linearly, inbound demux is the rare
// direction and the table stays small.
func (x *XPlaneClient) nameForIndex(index int32) (string, bool) {
	for name, idx := range x.subscriptions {
		if idx == index {
			return name, true
		}
	}

	return "", false
}

func (x *XPlaneClient) SnapshotAll() map[string]float64 {
	x.mu.Lock()
	defer x.mu.Unlock()

	snapshot := make(map[string]float64, len(x.cache))
	for name, value := range x.cache {
		snapshot[name] = value
	}

	return snapshot
}
