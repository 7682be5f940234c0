package openflite

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
	serialenum "go.bug.st/serial"

	"github.com/openflite/openflite/protocol"
)

const (
	deviceBaudRate    = 115200
	deviceReadTimeout = 100 * time.Millisecond
	identityTimeout   = 500 * time.Millisecond

	deviceLineBuffer = 64
)

// Device owns one serial connection to a MobiFlight-compatible board. A
// background reader splits the incoming byte stream into lines and buffers
// them; PollEvent hands them out one at a time without ever blocking.
type Device struct {
	Name      string
	BoardType string
	Serial    string
	Version   string
	PortName  string

	port  io.ReadWriteCloser
	lines chan string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// OpenDevice opens the serial port and queries the board identity. Ports
// that stay silent or answer garbage fail here, which is how the scanner
// tells boards apart from unrelated serial hardware.
func OpenDevice(portName string) (*Device, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        portName,
		Baud:        deviceBaudRate,
		ReadTimeout: deviceReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
	}

	return NewDeviceOn(port, portName)
}

// NewDeviceOn attaches to an already open connection. Used for boards that
// do not live behind a host serial port, emulated ones included.
func NewDeviceOn(port io.ReadWriteCloser, portName string) (*Device, error) {
	dev := &Device{
		Name:      "Unknown",
		BoardType: "Unknown",
		Serial:    "Unknown",
		Version:   "Unknown",
		PortName:  portName,
		port:      port,
		lines:     make(chan string, deviceLineBuffer),
		closed:    make(chan struct{}),
	}
	go dev.readLines()

	if err := dev.queryIdentity(); err != nil {
		dev.Close()
		return nil, err
	}

	return dev, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.BoardType)
}

// Send serializes the command and writes it out. Write failures surface to
// the caller, they mean the board is gone or the port is broken.
func (d *Device) Send(cmd protocol.Command) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.port.Write([]byte(cmd.Encode()))
	if err != nil {
		return errors.Wrapf(err, "failed to send command %d to %s", cmd.ID(), d.PortName)
	}

	return nil
}

// PollEvent returns one decoded response when a complete line is waiting,
// nil otherwise.
func (d *Device) PollEvent() protocol.Response {
	select {
	case line := <-d.lines:
		return protocol.ParseResponse(line)
	default:
		return nil
	}
}

func (d *Device) SetPin(pin, value uint8) error {
	return d.Send(protocol.SetPin{Pin: pin, Value: value})
}

func (d *Device) Set7Segment(module, index uint8, value string) error {
	return d.Send(protocol.Set7Segment{Module: module, Index: index, Value: value})
}

func (d *Device) SetLCD(display, line uint8, text string) error {
	return d.Send(protocol.SetLCD{Display: display, Line: line, Text: text})
}

func (d *Device) Close() (err error) {
	d.closeOnce.Do(func() {
		close(d.closed)
		err = d.port.Close()
	})

	return
}

func (d *Device) queryIdentity() error {
	if err := d.Send(protocol.GetInfo{}); err != nil {
		return err
	}

	select {
	case line := <-d.lines:
		info, isInfo := protocol.ParseResponse(line).(*protocol.Info)
		if !isInfo {
			return errors.Errorf("unexpected identity response from %s: %q", d.PortName, line)
		}
		d.Name = info.Name
		d.BoardType = info.BoardType
		d.Serial = info.Serial
		d.Version = info.Version

		return nil
	case <-time.After(identityTimeout):
		return errors.Errorf("no identity response from %s", d.PortName)
	}
}

func (d *Device) readLines() {
	buf := make([]byte, 256)
	var pending []byte

	for {
		select {
		case <-d.closed:
			return
		default:
		}

		n, err := d.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				nl := bytes.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				line := strings.TrimSpace(string(pending[:nl]))
				pending = pending[nl+1:]
				if line == "" {
					continue
				}
				select {
				case d.lines <- line:
				default:
					log.Debug("line buffer full, dropping", "port", d.PortName, "line", line)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-d.closed:
				default:
					log.Debug("serial read stopped", "port", d.PortName, "err", err)
				}
				return
			}
			// serial reads surface their timeout as EOF with no data
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// ScanPorts lists the serial ports present on the host without opening any
// of them.
func ScanPorts() ([]string, error) {
	ports, err := serialenum.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}

	return ports, nil
}
