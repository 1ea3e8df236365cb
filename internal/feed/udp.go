package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// UDPSource listens for position datagrams, one JSON message per datagram,
// as sent by the UWB anchors' network forwarder.
type UDPSource struct {
	Address string
	// ReadBuffer is the socket receive buffer in bytes; zero keeps the OS
	// default.
	ReadBuffer int

	mu   sync.Mutex
	addr net.Addr
}

func (u *UDPSource) Name() string { return "udp " + u.Address }

// LocalAddr returns the bound address while the source is running.
func (u *UDPSource) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.addr
}

// Run reads datagrams until ctx is cancelled or the socket fails.
func (u *UDPSource) Run(ctx context.Context, sink Sink) error {
	addr, err := net.ResolveUDPAddr("udp", u.Address)
	if err != nil {
		return fmt.Errorf("resolve udp address %s: %w", u.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on udp address %s: %w", u.Address, err)
	}
	defer conn.Close()

	if u.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(u.ReadBuffer); err != nil {
			logf("failed to set udp receive buffer to %d: %v", u.ReadBuffer, err)
		}
	}

	u.mu.Lock()
	u.addr = conn.LocalAddr()
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.addr = nil
		u.mu.Unlock()
	}()

	logf("udp listener started on %s", conn.LocalAddr())
	sink.SetConnected(true)

	buffer := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp read: %w", err)
		}
		if payload := strings.TrimSpace(string(buffer[:n])); payload != "" {
			sink.Publish(payload)
		}
	}
}
