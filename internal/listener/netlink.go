package listener

import (
	"errors"
	"fmt"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"

	"ueventd/internal/uevent"
)

// receiveBufferSize matches the kernel buffer ueventd asks for so a burst of
// regenerated events does not overflow the socket.
const receiveBufferSize = 16 * 1024 * 1024

// Conn is a source of decoded uevents.
type Conn interface {
	// Pending waits up to timeout for an event to become readable. A zero
	// timeout checks without blocking; a negative one blocks indefinitely.
	Pending(timeout time.Duration) (bool, error)
	// Read returns the next event. It blocks when nothing is pending.
	Read() (uevent.Event, error)
	Close() error
}

type netlinkConn struct {
	conn *netlink.UEventConn
}

// DialNetlink opens a kernel uevent netlink socket.
func DialNetlink() (Conn, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return nil, fmt.Errorf("connect netlink: %w", err)
	}
	if err := unix.SetsockoptInt(conn.Fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, receiveBufferSize); err != nil {
		// SO_RCVBUFFORCE needs CAP_NET_ADMIN; fall back to the capped variant.
		_ = unix.SetsockoptInt(conn.Fd, unix.SOL_SOCKET, unix.SO_RCVBUF, receiveBufferSize)
	}
	return &netlinkConn{conn: conn}, nil
}

func (c *netlinkConn) Pending(timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(c.conn.Fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll netlink: %w", err)
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

func (c *netlinkConn) Read() (uevent.Event, error) {
	for {
		ev, err := c.conn.ReadUEvent()
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return uevent.Event{}, fmt.Errorf("read uevent: %w", err)
		}
		return uevent.FromNetlink(*ev), nil
	}
}

func (c *netlinkConn) Close() error {
	return c.conn.Close()
}
