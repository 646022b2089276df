package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPv4ToUint32(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint32
		wantErr bool
	}{
		{name: "loopback", input: "127.0.0.1", want: 0x7F000001},
		{name: "zero", input: "0.0.0.0", want: 0},
		{name: "broadcast", input: "255.255.255.255", want: 0xFFFFFFFF},
		{name: "private", input: "192.168.1.10", want: 0xC0A8010A},
		{name: "octet out of range", input: "999.1.1.1", wantErr: true},
		{name: "256", input: "1.1.1.256", wantErr: true},
		{name: "three octets", input: "10.0.1", wantErr: true},
		{name: "five octets", input: "1.2.3.4.5", wantErr: true},
		{name: "empty octet", input: "1..3.4", wantErr: true},
		{name: "negative", input: "-1.2.3.4", wantErr: true},
		{name: "hostname", input: "localhost", wantErr: true},
		{name: "ipv6", input: "::1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IPv4ToUint32(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIPv4)
				assert.False(t, IsIPv4(tt.input))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsIPv4(tt.input))
		})
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "0.0.0.0", "8.8.8.8", "10.20.30.40", "255.255.255.255", "1.0.0.255"} {
		v, err := IPv4ToUint32(addr)
		require.NoError(t, err)
		assert.Equal(t, addr, Uint32ToIPv4(v))
	}
}

func TestQnameToDomain(t *testing.T) {
	tests := []struct {
		name    string
		qname   []byte
		want    string
		wantErr bool
	}{
		{name: "two labels", qname: []byte("\x07example\x03com\x00"), want: "example.com"},
		{name: "root", qname: []byte{0}, want: ""},
		{name: "mixed case preserved", qname: []byte("\x03WwW\x06Google\x03com\x00"), want: "WwW.Google.com"},
		{name: "length past end", qname: []byte("\x07exam"), wantErr: true},
		{name: "no terminator", qname: []byte("\x03com"), wantErr: true},
		{name: "empty input", qname: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QnameToDomain(tt.qname)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedLabel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainToQname(t *testing.T) {
	got, err := DomainToQname("www.google.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x03www\x06google\x03com\x00"), got)

	fqdn, err := DomainToQname("www.google.com.")
	require.NoError(t, err)
	assert.Equal(t, got, fqdn)

	root, err := DomainToQname("")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, root)

	_, err = DomainToQname("a..b")
	assert.ErrorIs(t, err, ErrMalformedLabel)

	_, err = DomainToQname(strings.Repeat("x", 64) + ".com")
	assert.ErrorIs(t, err, ErrMalformedLabel)
}

func TestQnameRoundTrip(t *testing.T) {
	domains := []string{
		"a",
		"example.com",
		"mail.google.com",
		"a.b.c.d.e.f",
		strings.Repeat("x", 63) + ".example",
		"xn--bcher-kva.example",
	}
	for _, d := range domains {
		qname, err := DomainToQname(d)
		require.NoError(t, err)
		back, err := QnameToDomain(qname)
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}
}
