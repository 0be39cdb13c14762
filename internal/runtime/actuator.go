package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
)

// Actuator consumes joint velocity commands.
type Actuator interface {
	Send(ctx context.Context, cmd control.Command) error
}

// CommandMessage is the JSON datagram written by UDPActuator.
type CommandMessage struct {
	Type        string                       `json:"type"`
	Seq         uint64                       `json:"seq"`
	TimestampNs int64                        `json:"timestamp_ns"`
	Velocities  [kinematics.NumQuasi]float64 `json:"velocities"`
}

// NewCommandMessage converts a command to its wire form.
func NewCommandMessage(cmd control.Command) CommandMessage {
	return CommandMessage{
		Type:        "command",
		Seq:         cmd.Seq,
		TimestampNs: cmd.Timestamp.UnixNano(),
		Velocities:  cmd.Velocities,
	}
}

// Command converts the wire form back into a command.
func (m CommandMessage) Command() control.Command {
	return control.Command{Seq: m.Seq, Timestamp: time.Unix(0, m.TimestampNs), Velocities: m.Velocities}
}

// UDPActuator sends each command as one JSON datagram.
type UDPActuator struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	address string
	sent    uint64
	failed  uint64
}

// NewUDPActuator dials the command receiver at address (host:port).
func NewUDPActuator(address string) (*UDPActuator, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actuator address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create actuator connection: %w", err)
	}
	logf("sending commands to %s", address)
	return &UDPActuator{conn: conn, address: address}, nil
}

// Send writes cmd. The context deadline, if any, bounds the write.
func (a *UDPActuator) Send(ctx context.Context, cmd control.Command) error {
	data, err := json.Marshal(NewCommandMessage(cmd))
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		a.conn.SetWriteDeadline(dl)
	} else {
		a.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := a.conn.Write(data); err != nil {
		a.failed++
		return fmt.Errorf("send command %d to %s: %w", cmd.Seq, a.address, err)
	}
	a.sent++
	return nil
}

// Counts returns the number of sent and failed commands.
func (a *UDPActuator) Counts() (sent, failed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.failed
}

// Close closes the UDP connection.
func (a *UDPActuator) Close() error {
	return a.conn.Close()
}
