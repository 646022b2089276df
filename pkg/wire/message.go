package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed size of a DNS header in bytes.
	HeaderSize = 12

	// TypeA is the only record type the router answers with.
	TypeA uint16 = 1
	// ClassINET is the only class the router answers with.
	ClassINET uint16 = 1

	// DefaultTTL is the TTL of synthesized answers, kept short so clients
	// come back through the router on every lookup.
	DefaultTTL uint32 = 1

	// MinQuerySize is the smallest datagram that can hold a header and an
	// empty question (root label plus qtype and qclass).
	MinQuerySize = HeaderSize + 1 + 4

	// type(2) + class(2) + ttl(4) + rdlength(2) + rdata(4)
	answerFixedSize = 14
	ipv4Len         = 4
	maxLabelLen     = 63
)

// Header is the 12 byte DNS message header. The ID is kept as the raw two
// bytes from the query and is never interpreted.
type Header struct {
	ID      [2]byte
	QR      bool
	Opcode  uint8 // 4 bits
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       uint8 // 3 bits
	Rcode   uint8 // 4 bits
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is the single question of a query. Name holds the wire encoded
// qname including its terminating zero byte.
type Question struct {
	Name  []byte
	Type  uint16
	Class uint16
}

// ResourceRecord is an answer record carrying an IPv4 address.
type ResourceRecord struct {
	Name  []byte
	Type  uint16
	Class uint16
	TTL   uint32
	Addr  uint32
}

// Message is a parsed query, or the in-memory form of a synthesized answer.
type Message struct {
	Header   Header
	Question Question
	Answers  []ResourceRecord
}

// NewA returns an A record for name pointing at addr.
func NewA(name []byte, addr, ttl uint32) ResourceRecord {
	return ResourceRecord{
		Name:  name,
		Type:  TypeA,
		Class: ClassINET,
		TTL:   ttl,
		Addr:  addr,
	}
}

// Domain returns the dotted textual form of the question name.
func (m *Message) Domain() (string, error) {
	return QnameToDomain(m.Question.Name)
}

// Reply returns the header of a synthesized response carrying ancount answers.
func (h Header) Reply(ancount int) Header {
	return Header{
		ID:      h.ID,
		QR:      true,
		Opcode:  0,
		RD:      true,
		QDCount: 1,
		ANCount: uint16(ancount),
	}
}

func (h Header) put(b []byte) {
	copy(b[0:2], h.ID[:])
	b[2] = bit(h.QR)<<7 | (h.Opcode&0x0F)<<3 | bit(h.AA)<<2 | bit(h.TC)<<1 | bit(h.RD)
	b[3] = bit(h.RA)<<7 | (h.Z&0x07)<<4 | h.Rcode&0x0F
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
}

func parseHeader(b []byte) Header {
	var h Header
	copy(h.ID[:], b[0:2])

	f := b[2]
	h.QR = f>>7&1 == 1
	h.Opcode = f >> 3 & 0x0F
	h.AA = f>>2&1 == 1
	h.TC = f>>1&1 == 1
	h.RD = f&1 == 1

	f = b[3]
	h.RA = f>>7&1 == 1
	h.Z = f >> 4 & 0x07
	h.Rcode = f & 0x0F

	h.QDCount = binary.BigEndian.Uint16(b[4:6])
	h.ANCount = binary.BigEndian.Uint16(b[6:8])
	h.NSCount = binary.BigEndian.Uint16(b[8:10])
	h.ARCount = binary.BigEndian.Uint16(b[10:12])
	return h
}

// Parse decodes a query datagram. Only the header and the first question
// are read; anything after the question (EDNS0 records for example) is
// ignored. The returned message does not alias b.
func Parse(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedMessage, len(b))
	}

	end, err := qnameEnd(b, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if end+4 > len(b) {
		return nil, fmt.Errorf("%w: question truncated before qtype/qclass", ErrMalformedMessage)
	}

	name := make([]byte, end-HeaderSize)
	copy(name, b[HeaderSize:end])

	return &Message{
		Header: parseHeader(b),
		Question: Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(b[end : end+2]),
			Class: binary.BigEndian.Uint16(b[end+2 : end+4]),
		},
	}, nil
}

// qnameEnd walks the label sequence starting at off and returns the offset
// just past its terminating zero byte.
func qnameEnd(b []byte, off int) (int, error) {
	for {
		if off >= len(b) {
			return 0, fmt.Errorf("%w: missing zero terminator", ErrMalformedLabel)
		}
		l := int(b[off])
		if l == 0 {
			return off + 1, nil
		}
		if l > maxLabelLen {
			// 0xC0 and friends: compression pointers are not supported
			return 0, fmt.Errorf("%w: label length byte %#x at offset %d", ErrMalformedLabel, l, off)
		}
		off += 1 + l
		if off > len(b) {
			return 0, fmt.Errorf("%w: label runs past end of message", ErrMalformedLabel)
		}
	}
}

// BuildResponse serializes a response to query carrying answers. The header
// is derived from the query (see Header.Reply) and the question section is
// copied verbatim. The buffer is sized exactly:
//
//	12 + len(qname) + 4 + Σ(len(rr.Name) + 14)
func BuildResponse(query *Message, answers []ResourceRecord) []byte {
	qname := query.Question.Name

	size := HeaderSize + len(qname) + 4
	for _, rr := range answers {
		size += len(rr.Name) + answerFixedSize
	}
	b := make([]byte, size)

	query.Header.Reply(len(answers)).put(b)

	off := HeaderSize
	off += copy(b[off:], qname)
	binary.BigEndian.PutUint16(b[off:], query.Question.Type)
	binary.BigEndian.PutUint16(b[off+2:], query.Question.Class)
	off += 4

	for _, rr := range answers {
		off += copy(b[off:], rr.Name)
		binary.BigEndian.PutUint16(b[off:], rr.Type)
		binary.BigEndian.PutUint16(b[off+2:], rr.Class)
		binary.BigEndian.PutUint32(b[off+4:], rr.TTL)
		binary.BigEndian.PutUint16(b[off+8:], ipv4Len)
		binary.BigEndian.PutUint32(b[off+10:], rr.Addr)
		off += answerFixedSize
	}

	return b
}

func bit(v bool) byte {
	if v {
		return 1
	}
	return 0
}
