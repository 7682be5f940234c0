// Package mockboard emulates a MobiFlight-compatible board on the far end
// of an in-memory connection: it answers identity queries, records every
// command it receives and lets callers fire input events, so the full
// device path runs without any hardware attached.
package mockboard

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/openflite/openflite/protocol"
)

// Board is configured by filling the identity fields before calling Start.
type Board struct {
	Name      string
	BoardType string
	Serial    string
	Version   string

	conn io.ReadWriteCloser

	mu       sync.Mutex
	received []string

	closeOnce sync.Once
}

// Start brings the board up on an in-memory pipe and returns the host side
// of it, ready to be attached as a device.
func (b *Board) Start() io.ReadWriteCloser {
	hostSide, boardSide := net.Pipe()
	b.conn = boardSide
	go b.serve()

	return hostSide
}

// EmitInput sends an input event line, the way a firmware reports a button
// or encoder movement.
func (b *Board) EmitInput(label, value string) error {
	line := fmt.Sprintf("%d,%s,%s;\n", protocol.InputEventID, label, value)
	_, err := b.conn.Write([]byte(line))

	return err
}

// Received returns every command line seen so far, in arrival order and
// without the trailing terminator.
func (b *Board) Received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	commands := make([]string, len(b.received))
	copy(commands, b.received)

	return commands
}

func (b *Board) Close() {
	b.closeOnce.Do(func() {
		if b.conn != nil {
			b.conn.Close()
		}
	})
}

func (b *Board) serve() {
	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				term := bytes.IndexByte(pending, ';')
				if term < 0 {
					break
				}
				command := strings.TrimSpace(string(pending[:term]))
				pending = pending[term+1:]
				if command == "" {
					continue
				}
				b.handle(command)
			}
		}
		if err != nil {
			return
		}
	}
}

func (b *Board) handle(command string) {
	b.mu.Lock()
	b.received = append(b.received, command)
	b.mu.Unlock()

	id, err := strconv.ParseUint(strings.Split(command, ",")[0], 10, 8)
	if err != nil {
		log.Debug("mock board ignoring garbage", "command", command)
		return
	}

	if uint8(id) == (protocol.GetInfo{}).ID() {
		reply := fmt.Sprintf("%d,%s,%s,%s,%s;\n",
			protocol.InfoResponseID, b.Name, b.BoardType, b.Serial, b.Version)
		if _, err := b.conn.Write([]byte(reply)); err != nil {
			log.Debug("mock board reply failed", "err", err)
		}
	}
}
