package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// IPv4ToUint32 converts a dotted-quad IPv4 literal into its 32-bit value,
// most significant octet first. Octets outside 0-255 are rejected rather
// than silently wrapped.
func IPv4ToUint32(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIPv4, s)
	}

	var v uint32
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidIPv4, s)
		}
		v = v<<8 | uint32(n)
	}
	return v, nil
}

// Uint32ToIPv4 renders a 32-bit address in dotted-quad form.
func Uint32ToIPv4(v uint32) string {
	var b strings.Builder
	b.Grow(15)
	for i := 3; i >= 0; i-- {
		b.WriteString(strconv.FormatUint(uint64(v>>(8*uint(i))&0xFF), 10))
		if i > 0 {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// IsIPv4 reports whether s is a dotted-quad IPv4 literal.
func IsIPv4(s string) bool {
	_, err := IPv4ToUint32(s)
	return err == nil
}

// QnameToDomain decodes a length-prefixed label sequence into its dotted
// form. The root name decodes to the empty string.
func QnameToDomain(qname []byte) (string, error) {
	var b strings.Builder
	off := 0
	for {
		if off >= len(qname) {
			return "", fmt.Errorf("%w: missing zero terminator", ErrMalformedLabel)
		}
		l := int(qname[off])
		off++
		if l == 0 {
			return b.String(), nil
		}
		if off+l > len(qname) {
			return "", fmt.Errorf("%w: label of %d bytes at offset %d runs past end", ErrMalformedLabel, l, off-1)
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.Write(qname[off : off+l])
		off += l
	}
}

// DomainToQname encodes a dotted domain into a label sequence terminated by
// a zero byte. A trailing dot is accepted.
func DomainToQname(domain string) ([]byte, error) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return []byte{0}, nil
	}

	qname := make([]byte, 0, len(domain)+2)
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > maxLabelLen {
			return nil, fmt.Errorf("%w: %q in %q", ErrMalformedLabel, label, domain)
		}
		qname = append(qname, byte(len(label)))
		qname = append(qname, label...)
	}
	return append(qname, 0), nil
}
