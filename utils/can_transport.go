package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// LogWriter stands in for a bus when no interface is configured: frames are
// traced to the logger and the last one is kept for inspection.
type LogWriter struct {
	log *Logger

	mu     sync.Mutex
	sent   int
	last   can.Frame
	closed bool
}

func NewLogWriter(log *Logger) *LogWriter {
	return &LogWriter{log: log}
}

func (w *LogWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("log writer closed")
	}
	w.sent++
	w.last = frame
	w.log.Trace("TX %s", frame.String())
	return nil
}

// Sent returns the number of frames written and the most recent one.
func (w *LogWriter) Sent() (int, can.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent, w.last
}

func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
