//go:build !linux

package canbridge

// SocketCAN is only available on Linux.
func SocketCAN(iface string) (Endpoint, error) {
	if err := ValidateInterfaceName(iface); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}
