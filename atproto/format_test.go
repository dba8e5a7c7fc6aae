package atproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgWriterLeadingComma(t *testing.T) {
	scratch := NewScratchOutput()
	w := NewArgWriter(scratch)

	w.String("TCP", true, false)
	w.String("example.com", true, false)
	w.Number(80)

	require.Equal(t, `"TCP","example.com",80`, string(scratch.Result()))
}

func TestArgWriterEscaping(t *testing.T) {
	scratch := NewScratchOutput()
	w := NewArgWriter(scratch)

	w.String(`a,b"c\d`, true, true)

	require.Equal(t, `"a\,b\"c\\d"`, string(scratch.Result()))
}

func TestIPv4RoundTrip(t *testing.T) {
	scratch := NewScratchOutput()
	w := NewArgWriter(scratch)
	w.IPv4([4]byte{93, 184, 216, 34})
	require.Equal(t, `"93.184.216.34"`, string(scratch.Result()))

	ip, err := ParseIPv4("93.184.216.34")
	require.NoError(t, err)
	require.Equal(t, [4]byte{93, 184, 216, 34}, ip)
}

func TestMACRoundTrip(t *testing.T) {
	scratch := NewScratchOutput()
	w := NewArgWriter(scratch)
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0x00, 0x11, 0x22}
	w.MAC(mac)
	require.Equal(t, `"aa:bb:cc:00:11:22"`, string(scratch.Result()))

	parsed, err := ParseMAC("aa:bb:cc:00:11:22")
	require.NoError(t, err)
	require.Equal(t, mac, parsed)
}

func TestIPv6RoundTrip(t *testing.T) {
	var ip [16]byte
	ip[0], ip[1] = 0x20, 0x01
	ip[2], ip[3] = 0x0d, 0xb8
	ip[15] = 0x01

	scratch := NewScratchOutput()
	w := NewArgWriter(scratch)
	w.IPv6(ip)
	require.Equal(t, `"2001:db8:0:0:0:0:0:1"`, string(scratch.Result()))

	parsed, err := ParseIPv6("2001:db8:0:0:0:0:0:1")
	require.NoError(t, err)
	require.Equal(t, ip, parsed)
}
