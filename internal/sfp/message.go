// Package sfp implements the Simulated File Protocol: the fixed-size
// binary datagram exchanged between the kernel and the SFSS storage
// server. One record shape serves all ten request/reply kinds; the wire
// image equals the in-memory image.
package sfp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType identifies the kind of SFP message.
type MsgType int32

// Message kinds, in wire order. Replies are always Req+1.
const (
	RdReq MsgType = iota
	RdRep
	WrReq
	WrRep
	DcReq
	DcRep
	DrReq
	DrRep
	DlReq
	DlRep
)

func (t MsgType) String() string {
	switch t {
	case RdReq:
		return "RD_REQ"
	case RdRep:
		return "RD_REP"
	case WrReq:
		return "WR_REQ"
	case WrRep:
		return "WR_REP"
	case DcReq:
		return "DC_REQ"
	case DcRep:
		return "DC_REP"
	case DrReq:
		return "DR_REQ"
	case DrRep:
		return "DR_REP"
	case DlReq:
		return "DL_REQ"
	case DlRep:
		return "DL_REP"
	default:
		return fmt.Sprintf("MsgType(%d)", int32(t))
	}
}

// IsFileReply reports whether t is RD_REP or WR_REP (the file wait queue).
func (t MsgType) IsFileReply() bool { return t == RdRep || t == WrRep }

// IsDirReply reports whether t is DC_REP, DR_REP, or DL_REP (the directory
// wait queue).
func (t MsgType) IsDirReply() bool { return t == DcRep || t == DrRep || t == DlRep }

// Reply returns the reply MsgType for a request kind.
func (t MsgType) Reply() MsgType { return t + 1 }

// Status codes, carried on the overloaded offset/path_len/nrnames fields.
const (
	Success       = 0
	ErrPermission = -1
	ErrNotFound   = -2
	ErrOffsetOOB  = -3
	ErrIO         = -4
	ErrUnknownMsg = -100
)

// Fixed buffer sizes. Both endpoints must agree on these exactly.
const (
	PayloadSize     = 16
	MaxNamesInDir   = 40
	MaxPathLen      = 512
	MaxAllFilenames = 2048
)

// FstLst is one entry in a DL-REP listing: the inclusive byte range
// [Start, End] of the entry's name inside AllNames, and whether it is a
// directory.
type FstLst struct {
	Start int32
	End   int32
	IsDir int32
}

// Message is the single record shape used for all ten SFP message kinds.
// Fields not used by a given kind are simply left zero.
type Message struct {
	Type    MsgType
	Owner   int32
	PathLen int32
	Path    [MaxPathLen]byte

	NameLen int32
	Name    [MaxPathLen]byte

	Offset  int32 // RD/WR-REP status, or requested/echoed offset
	Payload [PayloadSize]byte

	NRNames   int32 // DL-REP status, or entry count
	Positions [MaxNamesInDir]FstLst
	AllNames  [MaxAllFilenames]byte
}

// wireSize is the exact byte length of a marshaled Message.
const wireSize = 4 + 4 + 4 + MaxPathLen + 4 + MaxPathLen + 4 + PayloadSize + 4 + MaxNamesInDir*12 + MaxAllFilenames

// SetPath truncates s to 511 bytes, null-terminates it inside the fixed
// buffer, and records the length of the truncated string.
func (m *Message) SetPath(s string) {
	setFixedString(&m.Path, &m.PathLen, s)
}

// SetName truncates s to 511 bytes, null-terminates it inside the fixed
// buffer, and records the logical length.
func (m *Message) SetName(s string) {
	setFixedString(&m.Name, &m.NameLen, s)
}

// PathString returns the path as a Go string, trimmed at the first NUL.
func (m *Message) PathString() string { return cString(m.Path[:]) }

// NameString returns the entry name as a Go string, trimmed at the first NUL.
func (m *Message) NameString() string { return cString(m.Name[:]) }

// SetPayload zero-fills the payload then copies up to PayloadSize bytes
// from tok. Longer tokens are silently truncated.
func (m *Message) SetPayload(tok []byte) {
	for i := range m.Payload {
		m.Payload[i] = 0
	}
	copy(m.Payload[:], tok)
}

func setFixedString(buf *[MaxPathLen]byte, length *int32, s string) {
	if len(s) > MaxPathLen-1 {
		s = s[:MaxPathLen-1]
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[:], s)
	*length = int32(len(s))
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// MarshalBinary encodes m into its fixed-size wire representation.
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(wireSize)
	if err := binary.Write(buf, binary.LittleEndian, int32(m.Type)); err != nil {
		return nil, err
	}
	fields := []any{
		m.Owner, m.PathLen, m.Path, m.NameLen, m.Name,
		m.Offset, m.Payload, m.NRNames, m.Positions, m.AllNames,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a wire image produced by MarshalBinary.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < wireSize {
		return fmt.Errorf("sfp: short message: got %d bytes, want %d", len(data), wireSize)
	}
	r := bytes.NewReader(data[:wireSize])
	var typ int32
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return err
	}
	m.Type = MsgType(typ)
	fields := []any{
		&m.Owner, &m.PathLen, &m.Path, &m.NameLen, &m.Name,
		&m.Offset, &m.Payload, &m.NRNames, &m.Positions, &m.AllNames,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// WireSize returns the fixed byte length of every SFP datagram.
func WireSize() int { return wireSize }
