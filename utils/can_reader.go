package utils

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// ErrReceive is returned when the underlying socket stops delivering frames.
var ErrReceive = errors.New("can receive failed")

// CANReader reads frames off a bus.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// SocketCANReader reads from a SocketCAN interface.
type SocketCANReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}, nil
}

// ReadFrame blocks until a frame arrives or ctx is done. The receive runs in
// its own goroutine so a canceled ctx returns immediately; closing the reader
// unblocks it.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	type result struct {
		frame can.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		if r.recv.Receive() {
			ch <- result{frame: r.recv.Frame()}
			return
		}
		err := r.recv.Err()
		if err == nil {
			err = ErrReceive
		}
		ch <- result{err: fmt.Errorf("%w: %w", ErrReceive, err)}
	}()

	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case res := <-ch:
		return res.frame, res.err
	}
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
