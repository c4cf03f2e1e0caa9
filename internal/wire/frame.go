// Package wire defines the fixed-size, native-endian binary frame format
// exchanged over the daemon's rendezvous socket. It is deliberately not a
// generated protobuf schema: the rendezvous endpoint is a privileged,
// node-local Unix socket with a single, stable, low-rate client population,
// and a raw struct-shaped frame mirrors the kernel-facing C union it
// replaces without pulling in an RPC framework for a single local socket.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RequestType selects which payload of a Request frame is meaningful.
type RequestType uint8

const (
	// ReqAuth carries an AuthPayload declaring the session's role and
	// context name; the peer's identity itself is established out of band
	// via the socket's peer-credential lookup.
	ReqAuth RequestType = iota + 1

	// ReqSet carries a SetPayload describing an attribute mutation.
	ReqSet

	// ReqLogLevel carries a LogLevelPayload requesting a verbosity change.
	ReqLogLevel

	// ReqDump requests a diagnostic dump of engine state; root-only.
	ReqDump
)

// ReturnCode is the outcome reported in every Response frame.
type ReturnCode uint8

const (
	CodeSuccess ReturnCode = iota
	CodeFailure
	CodeInvalid
	CodeNoPerm
)

// String returns the wire-level name of the return code, used in log
// fields at the rendezvous boundary.
func (c ReturnCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeFailure:
		return "FAILURE"
	case CodeInvalid:
		return "INVALID"
	case CodeNoPerm:
		return "OP_NO_PERM"
	default:
		return "UNKNOWN"
	}
}

const (
	maxPathLen = 256

	// authPayloadSize, setPayloadSize, logLevelPayloadSize are the
	// on-wire sizes of each variant, computed from their fixed fields.
	authPayloadSize     = 1 + 63 // role byte + context name
	setPayloadSize      = 1 + 1 + 8 + maxPathLen
	logLevelPayloadSize = 1 + 1

	// RequestSize is the total size of a Request frame: a 1-byte type tag,
	// 7 bytes of alignment padding, and the three payload variants laid out
	// back-to-back at fixed offsets (the daemon only interprets the one
	// selected by Type, but the wire layout reserves space for all three so
	// the frame size never depends on the request kind).
	RequestSize = 1 + 7 + authPayloadSize + setPayloadSize + logLevelPayloadSize

	// ResponseSize is the total size of a Response frame.
	ResponseSize = 1 + 7 + 8 + logLevelPayloadSize
)

// ErrShortFrame indicates fewer bytes were available than a full frame
// requires; callers at the rendezvous boundary treat this as a peer
// disconnect, not a protocol violation.
var ErrShortFrame = errors.New("wire: short frame")

// ErrPathTooLong indicates an AttributePath exceeds the wire's fixed field
// width.
var ErrPathTooLong = errors.New("wire: path exceeds maximum length")

// AuthPayload declares a session's requested role and context name.
type AuthPayload struct {
	Role        uint8
	ContextName string
}

// SetPayload describes a single attribute mutation request.
type SetPayload struct {
	Kind     uint8
	DataType uint8
	Value    uint64 // reinterpreted as float64 bits when DataType is float
	Path     string
}

// LogLevelPayload requests or reports a verbosity change.
type LogLevelPayload struct {
	Debug bool
	Trace bool
}

// Request is the decoded form of a request frame.
type Request struct {
	Type     RequestType
	Auth     AuthPayload
	Set      SetPayload
	LogLevel LogLevelPayload
}

// Response is the decoded form of a response frame.
type Response struct {
	Code     ReturnCode
	Sequence uint64
	LogLevel LogLevelPayload
}

// EncodeRequest writes req as a fixed-size frame to w.
func EncodeRequest(w io.Writer, req Request) error {
	if len(req.Set.Path) > maxPathLen-1 {
		return fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(req.Set.Path))
	}

	var buf bytes.Buffer
	buf.Grow(RequestSize)

	buf.WriteByte(byte(req.Type))
	buf.Write(make([]byte, 7))

	var authBuf [authPayloadSize]byte
	authBuf[0] = req.Auth.Role
	copy(authBuf[1:], req.Auth.ContextName)
	buf.Write(authBuf[:])

	var setBuf [setPayloadSize]byte
	setBuf[0] = req.Set.Kind
	setBuf[1] = req.Set.DataType
	binary.NativeEndian.PutUint64(setBuf[2:10], req.Set.Value)
	copy(setBuf[10:], req.Set.Path)
	buf.Write(setBuf[:])

	var logBuf [logLevelPayloadSize]byte
	logBuf[0] = boolByte(req.LogLevel.Debug)
	logBuf[1] = boolByte(req.LogLevel.Trace)
	buf.Write(logBuf[:])

	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeRequest reads exactly one fixed-size frame from r.
func DecodeRequest(r io.Reader) (Request, error) {
	buf := make([]byte, RequestSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Request{}, fmt.Errorf("%w: %w", ErrShortFrame, err)
		}
		return Request{}, err
	}

	var req Request
	req.Type = RequestType(buf[0])

	off := 8
	req.Auth.Role = buf[off]
	req.Auth.ContextName = cString(buf[off+1 : off+authPayloadSize])
	off += authPayloadSize

	req.Set.Kind = buf[off]
	req.Set.DataType = buf[off+1]
	req.Set.Value = binary.NativeEndian.Uint64(buf[off+2 : off+10])
	req.Set.Path = cString(buf[off+10 : off+setPayloadSize])
	off += setPayloadSize

	req.LogLevel.Debug = buf[off] != 0
	req.LogLevel.Trace = buf[off+1] != 0

	return req, nil
}

// EncodeResponse writes resp as a fixed-size frame to w.
func EncodeResponse(w io.Writer, resp Response) error {
	var buf bytes.Buffer
	buf.Grow(ResponseSize)

	buf.WriteByte(byte(resp.Code))
	buf.Write(make([]byte, 7))

	var seqBuf [8]byte
	binary.NativeEndian.PutUint64(seqBuf[:], resp.Sequence)
	buf.Write(seqBuf[:])

	buf.WriteByte(boolByte(resp.LogLevel.Debug))
	buf.WriteByte(boolByte(resp.LogLevel.Trace))

	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeResponse reads exactly one fixed-size response frame from r.
func DecodeResponse(r io.Reader) (Response, error) {
	buf := make([]byte, ResponseSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, fmt.Errorf("%w: %w", ErrShortFrame, err)
		}
		return Response{}, err
	}

	var resp Response
	resp.Code = ReturnCode(buf[0])
	resp.Sequence = binary.NativeEndian.Uint64(buf[8:16])
	resp.LogLevel.Debug = buf[16] != 0
	resp.LogLevel.Trace = buf[17] != 0
	return resp, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// cString trims a fixed-width field at its first NUL byte.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
