//go:build linux

package canbridge

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Linux network interface helpers. They issue SIOCGIFFLAGS/SIOCSIFFLAGS and
// SIOCGIFINDEX on an already created socket.
//
// Bringing an interface up requires CAP_NET_ADMIN. Without it the kernel
// returns EPERM, which RequireCapNetAdmin turns into a clearer message.

func interfaceFlags(fd int, name string) (uint16, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("canbridge: %w: %q", ErrNameTooLong, name)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		if errors.Is(err, unix.ENODEV) {
			return 0, fmt.Errorf("%w: %s", ErrNoInterface, name)
		}
		return 0, fmt.Errorf("canbridge: get flags %s: %w", name, err)
	}
	return ifr.Uint16(), nil
}

func setInterfaceUp(fd int, name string) error {
	flags, err := interfaceFlags(fd, name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	ifr.SetUint16(flags | unix.IFF_UP)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return RequireCapNetAdmin(fmt.Errorf("canbridge: set %s up: %w", name, err))
	}
	return nil
}

func interfaceIndex(fd int, name string) (int, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("canbridge: %w: %q", ErrNameTooLong, name)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		return 0, fmt.Errorf("canbridge: get index %s: %w", name, err)
	}
	index := int(ifr.Uint32())
	if index <= 0 {
		return 0, fmt.Errorf("canbridge: invalid interface index %d for %s", index, name)
	}
	return index, nil
}

// RequireCapNetAdmin maps EPERM to an error advising to grant CAP_NET_ADMIN.
func RequireCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}
