package canbridge

import "errors"

// Endpoint is one OS-level bus handle, created unbound by an Opener.
//
// The Driver performs the open sequence on it (interface flag query, optional
// link-up, bind) and then moves raw can_frame images through Read and Write.
// Implementations report "no data" and "buffer full" as ErrWouldBlock.
// An Endpoint is used by one Driver at a time and need not be safe for
// concurrent use.
type Endpoint interface {
	// InterfaceUp queries the administrative IFF_UP flag of the interface.
	InterfaceUp() (bool, error)
	// SetInterfaceUp asks the OS to bring the interface up.
	SetInterfaceUp() error
	// Bind attaches the endpoint to the interface.
	Bind() error
	// SetBlocking switches the handle between blocking and non-blocking I/O.
	SetBlocking(blocking bool) error
	// Write writes one frame image and returns the byte count written.
	Write(p []byte) (int, error)
	// Read reads one frame image and returns the byte count read.
	Read(p []byte) (int, error)
	// Valid reports whether the OS still considers the handle open.
	Valid() bool
	// Close releases the handle. Repeated calls return nil.
	Close() error
}

// Opener creates an unbound Endpoint for the named interface.
type Opener func(iface string) (Endpoint, error)

// IfNameSize mirrors IFNAMSIZ: interface names must be shorter than this.
const IfNameSize = 16

var (
	// ErrClosed indicates the driver, bridge or endpoint has been closed.
	ErrClosed = errors.New("canbridge: closed")
	// ErrAlreadyOpen is returned by Driver.Open on an already open channel.
	ErrAlreadyOpen = errors.New("canbridge: channel already open")
	// ErrNotLive is returned when an operation needs a live channel.
	ErrNotLive = errors.New("canbridge: channel not live")
	// ErrWouldBlock reports an empty receive queue or a full send buffer.
	ErrWouldBlock = errors.New("canbridge: would block")
	// ErrShortIO reports a read or write that moved fewer bytes than a frame.
	ErrShortIO = errors.New("canbridge: short read/write")
	// ErrNameTooLong reports an interface name of IfNameSize bytes or more.
	ErrNameTooLong = errors.New("canbridge: interface name too long")
	// ErrNoInterface reports an interface that does not exist.
	ErrNoInterface = errors.New("canbridge: no such interface")
	// ErrUnsupported is returned by SocketCAN on non-Linux platforms.
	ErrUnsupported = errors.New("canbridge: socketcan unsupported on this platform")

	ErrInvalidID  = errors.New("canbridge: invalid identifier")
	ErrInvalidLen = errors.New("canbridge: invalid data length")
)

// ValidateInterfaceName checks the IFNAMSIZ bound.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return ErrNoInterface
	}
	if len(name) >= IfNameSize {
		return ErrNameTooLong
	}
	return nil
}
