package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesATDefaults(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")

	require.Equal(t, "/dev/ttyUSB0", cfg.Device)
	require.Equal(t, 115200, cfg.Baud)
	require.Equal(t, 100, cfg.ReadTimeout)
}

func TestMockPort_RoundTripsBytes(t *testing.T) {
	host, device := NewMockPort()
	defer host.Close()
	defer device.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := device.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf[:n]))
		_, err = device.Write([]byte("world"))
		require.NoError(t, err)
	}()

	_, err := host.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := host.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("device goroutine never finished")
	}
}

func TestMockPort_FlushIsNoop(t *testing.T) {
	host, device := NewMockPort()
	defer host.Close()
	defer device.Close()

	require.NoError(t, host.Flush())
}

func TestMockPort_CloseUnblocksPendingRead(t *testing.T) {
	host, device := NewMockPort()
	defer device.Close()

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := host.Read(buf)
		errCh <- err
	}()

	// Give the read a moment to block before closing out from under it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, host.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read never unblocked after Close")
	}
}

func TestNativePort_ResetReportsUnsupported(t *testing.T) {
	p := &NativePort{cfg: DefaultConfig("/dev/null")}
	require.Equal(t, ErrNotSupported, p.Reset(ResetPulseLow))
}

func TestNativePort_CloseOnNilUnderlyingPortIsSafe(t *testing.T) {
	p := &NativePort{}
	require.NoError(t, p.Close())
}

func TestOpen_RejectsNilConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)
}
