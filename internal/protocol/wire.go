// Package protocol implements the chain's wire-level handshake: message
// framing, the version/verack exchange, and user agent parsing.
//
// Framing is the classic 24-byte header: 4-byte network magic, 12-byte
// zero-padded command, 4-byte payload length, 4-byte double-SHA256
// checksum: followed by the payload. Magic and protocol versions come from
// chain configuration, never from constants here.
package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	headerSize  = 24
	commandSize = 12

	// maxPayloadSize bounds what we will read from an unauthenticated peer.
	// Handshake payloads are tiny; anything larger is garbage.
	maxPayloadSize = 1 << 20
)

// Commands exchanged during the handshake.
const (
	cmdVersion = "version"
	cmdVerack  = "verack"
	cmdReject  = "reject"
)

var (
	errBadMagic      = errors.New("wire: magic mismatch")
	errBadChecksum   = errors.New("wire: checksum mismatch")
	errOversized     = errors.New("wire: payload exceeds limit")
	errShortPayload  = errors.New("wire: truncated payload")
	errCommandFormat = errors.New("wire: malformed command field")
)

// checksum is the first four bytes of double-SHA256, per the wire format.
func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// writeMessage frames and writes one message.
func writeMessage(w io.Writer, magic [4]byte, command string, payload []byte) error {
	if len(command) > commandSize {
		return errCommandFormat
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	copy(header[4:4+commandSize], command)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	sum := checksum(payload)
	copy(header[20:24], sum[:])

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads and verifies one framed message.
func readMessage(r io.Reader, magic [4]byte) (command string, payload []byte, err error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return "", nil, errBadMagic
	}

	command = string(bytes.TrimRight(header[4:4+commandSize], "\x00"))
	length := binary.LittleEndian.Uint32(header[16:20])
	if length > maxPayloadSize {
		return "", nil, errOversized
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errShortPayload, err)
	}

	sum := checksum(payload)
	if !bytes.Equal(header[20:24], sum[:]) {
		return "", nil, errBadChecksum
	}
	return command, payload, nil
}

// ─── Version message ────────────────────────────────────────────────────────

// VersionMsg carries the handshake fields both sides announce.
type VersionMsg struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

// encodeVersion serializes a version payload. Address blocks carry the
// services bitmask, 16-byte IP, and big-endian port.
func encodeVersion(msg VersionMsg, remote, local net.Addr) []byte {
	var buf bytes.Buffer

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(msg.ProtocolVersion))
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint64(scratch[:], msg.Services)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(msg.Timestamp))
	buf.Write(scratch[:])

	writeNetAddress(&buf, msg.Services, remote)
	writeNetAddress(&buf, msg.Services, local)

	binary.LittleEndian.PutUint64(scratch[:], msg.Nonce)
	buf.Write(scratch[:])

	writeVarString(&buf, msg.UserAgent)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(msg.StartHeight))
	buf.Write(scratch[:4])

	if msg.Relay {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// decodeVersion parses a version payload. The trailing relay flag is
// optional for older protocol versions.
func decodeVersion(payload []byte) (VersionMsg, error) {
	var msg VersionMsg
	r := bytes.NewReader(payload)

	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return msg, errShortPayload
	}
	msg.ProtocolVersion = int32(binary.LittleEndian.Uint32(scratch[:4]))

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return msg, errShortPayload
	}
	msg.Services = binary.LittleEndian.Uint64(scratch[:])

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return msg, errShortPayload
	}
	msg.Timestamp = int64(binary.LittleEndian.Uint64(scratch[:]))

	// Two 26-byte address blocks we have no use for.
	if _, err := io.CopyN(io.Discard, r, 52); err != nil {
		return msg, errShortPayload
	}

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return msg, errShortPayload
	}
	msg.Nonce = binary.LittleEndian.Uint64(scratch[:])

	agent, err := readVarString(r)
	if err != nil {
		return msg, err
	}
	msg.UserAgent = agent

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return msg, errShortPayload
	}
	msg.StartHeight = int32(binary.LittleEndian.Uint32(scratch[:4]))

	if b, err := r.ReadByte(); err == nil {
		msg.Relay = b != 0
	}
	return msg, nil
}

// writeNetAddress writes the 26-byte services+IP+port block.
func writeNetAddress(buf *bytes.Buffer, services uint64, addr net.Addr) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], services)
	buf.Write(scratch[:])

	ip := net.IPv6zero
	port := 0
	if addr != nil {
		if host, portStr, err := net.SplitHostPort(addr.String()); err == nil {
			if parsed := net.ParseIP(host); parsed != nil {
				ip = parsed.To16()
			}
			port, _ = strconv.Atoi(portStr)
		}
	}
	buf.Write(ip)
	// Port is big-endian on the wire, unlike everything else.
	buf.WriteByte(byte(port >> 8))
	buf.WriteByte(byte(port))
}

// ─── Reject message ─────────────────────────────────────────────────────────

// rejectMsg is the active refusal some peers send when they dislike the
// offered protocol version.
type rejectMsg struct {
	Rejected string
	Code     byte
	Reason   string
}

func decodeReject(payload []byte) (rejectMsg, error) {
	var msg rejectMsg
	r := bytes.NewReader(payload)

	rejected, err := readVarString(r)
	if err != nil {
		return msg, err
	}
	msg.Rejected = rejected

	code, err := r.ReadByte()
	if err != nil {
		return msg, errShortPayload
	}
	msg.Code = code

	reason, err := readVarString(r)
	if err != nil {
		return msg, err
	}
	msg.Reason = reason
	return msg, nil
}

// ─── Variable-length primitives ─────────────────────────────────────────────

func writeVarInt(buf *bytes.Buffer, n uint64) {
	var scratch [8]byte
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(0xfd)
		binary.LittleEndian.PutUint16(scratch[:2], uint16(n))
		buf.Write(scratch[:2])
	case n <= 0xffffffff:
		buf.WriteByte(0xfe)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(n))
		buf.Write(scratch[:4])
	default:
		buf.WriteByte(0xff)
		binary.LittleEndian.PutUint64(scratch[:], n)
		buf.Write(scratch[:])
	}
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, errShortPayload
	}
	var scratch [8]byte
	switch first {
	case 0xfd:
		if _, err := io.ReadFull(r, scratch[:2]); err != nil {
			return 0, errShortPayload
		}
		return uint64(binary.LittleEndian.Uint16(scratch[:2])), nil
	case 0xfe:
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return 0, errShortPayload
		}
		return uint64(binary.LittleEndian.Uint32(scratch[:4])), nil
	case 0xff:
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return 0, errShortPayload
		}
		return binary.LittleEndian.Uint64(scratch[:]), nil
	default:
		return uint64(first), nil
	}
}

func writeVarString(buf *bytes.Buffer, s string) {
	writeVarInt(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readVarString(r *bytes.Reader) (string, error) {
	n, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	if n > maxPayloadSize {
		return "", errOversized
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", errShortPayload
	}
	return string(raw), nil
}

// nonceFromTime derives a handshake nonce. Uniqueness matters only to
// detect self-connections, which a crawler never makes.
func nonceFromTime() uint64 {
	return uint64(time.Now().UnixNano())
}
