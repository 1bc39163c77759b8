//go:build linux

package canbridge

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// socketCAN implements Endpoint over a Linux raw CAN socket.
type socketCAN struct {
	iface string
	fd    int
}

var _ Opener = SocketCAN

// SocketCAN creates a raw CAN socket for the given interface name
// (e.g., "can0"). The socket is not bound until the Driver opens it.
func SocketCAN(iface string) (Endpoint, error) {
	if err := ValidateInterfaceName(iface); err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbridge: socket: %w", err)
	}
	return &socketCAN{iface: iface, fd: fd}, nil
}

func (s *socketCAN) InterfaceUp() (bool, error) {
	if s.fd < 0 {
		return false, ErrClosed
	}
	flags, err := interfaceFlags(s.fd, s.iface)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

func (s *socketCAN) SetInterfaceUp() error {
	if s.fd < 0 {
		return ErrClosed
	}
	return setInterfaceUp(s.fd, s.iface)
}

func (s *socketCAN) Bind() error {
	if s.fd < 0 {
		return ErrClosed
	}
	index, err := interfaceIndex(s.fd, s.iface)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, &unix.SockaddrCAN{Ifindex: index}); err != nil {
		return fmt.Errorf("canbridge: bind %s: %w", s.iface, err)
	}
	return nil
}

func (s *socketCAN) SetBlocking(blocking bool) error {
	if s.fd < 0 {
		return ErrClosed
	}
	return unix.SetNonblock(s.fd, !blocking)
}

// Write writes one can_frame image.
func (s *socketCAN) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
			// ENOBUFS is what a full CAN tx queue reports even on a
			// blocking socket.
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// Read reads one can_frame image.
func (s *socketCAN) Read(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *socketCAN) Valid() bool {
	if s.fd < 0 {
		return false
	}
	_, err := unix.FcntlInt(uintptr(s.fd), unix.F_GETFD, 0)
	return !errors.Is(err, unix.EBADF)
}

func (s *socketCAN) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
