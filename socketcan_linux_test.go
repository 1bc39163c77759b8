//go:build linux

package canbridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSocketCAN_MissingInterface(t *testing.T) {
	ep, err := SocketCAN("nosuchcan0")
	if err != nil {
		t.Skipf("raw CAN sockets unavailable: %v", err)
	}
	assert.True(t, ep.Valid())

	_, err = ep.InterfaceUp()
	require.ErrorIs(t, err, ErrNoInterface)
	assert.Error(t, ep.Bind())

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	assert.False(t, ep.Valid())
	_, err = ep.Read(make([]byte, WireSize))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocketCAN_NameTooLong(t *testing.T) {
	_, err := SocketCAN("averyveryverylongname")
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestRequireCapNetAdmin(t *testing.T) {
	err := RequireCapNetAdmin(unix.EPERM)
	assert.ErrorContains(t, err, "CAP_NET_ADMIN")
	assert.ErrorIs(t, err, unix.EPERM)

	other := errors.New("other")
	assert.Same(t, other, RequireCapNetAdmin(other))
}
