// Package protocol implements the SSH agent wire protocol: a 4-byte
// big-endian length prefix followed by a message-typed payload, as spoken
// over the local agent socket.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Request message type bytes.
const (
	msgRequestIdentities      = 11
	msgSignRequest            = 13
	msgAddIdentity            = 17
	msgRemoveIdentity         = 18
	msgRemoveAllIdentities    = 19
	msgAddSmartcardKey        = 20
	msgRemoveSmartcardKey     = 21
	msgLock                   = 22
	msgUnlock                 = 23
	msgAddIDConstrained       = 25
	msgAddSmartcardKeyConstrd = 26
	msgExtension              = 27
)

// Response message type bytes.
const (
	MsgFailure          = 5
	MsgSuccess          = 6
	MsgIdentitiesAnswer = 12
	MsgSignResponse     = 14
)

// SignatureFlags is the bitfield carried in a SignRequest.
//
// https://datatracker.ietf.org/doc/html/draft-miller-ssh-agent#name-new-registry-ssh-agent-sign
type SignatureFlags uint32

const (
	FlagReserved    SignatureFlags = 1 << 0
	FlagRSASHA2_256 SignatureFlags = 1 << 1
	FlagRSASHA2_512 SignatureFlags = 1 << 2
)

func (f SignatureFlags) Has(bit SignatureFlags) bool { return f&bit != 0 }

// Identity is a single entry returned in an IdentitiesAnswer response.
type Identity struct {
	KeyBlob    []byte
	KeyComment string
}

// Request is the parsed form of an incoming agent request. Kind identifies
// which fields are populated.
type Request struct {
	Kind RequestKind

	// SignRequest fields.
	PubkeyBlob []byte
	Data       []byte
	Flags      SignatureFlags

	// Extension fields.
	ExtName string
	ExtData []byte
}

// RequestKind distinguishes the recognized request shapes. Everything not
// explicitly handled here, including legal-but-unimplemented message types
// like AddIdentity, decodes as RequestUnknown.
type RequestKind int

const (
	RequestIdentities RequestKind = iota
	RequestSign
	RequestExtension
	RequestUnknown
)

// ReadRequest reads one framed request from r: a 4-byte big-endian length
// followed by that many bytes of payload, then parses the payload.
func ReadRequest(r io.Reader) (Request, error) {
	body, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	return parseRequest(body)
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated frame", ErrProtocolParse)
	}
	return body, nil
}

func parseRequest(body []byte) (Request, error) {
	if len(body) < 1 {
		return Request{}, fmt.Errorf("%w: empty payload", ErrProtocolParse)
	}
	br := bufio.NewReader(bytes.NewReader(body[1:]))

	switch body[0] {
	case msgRequestIdentities:
		return Request{Kind: RequestIdentities}, nil

	case msgSignRequest:
		pubkey, err := readLPBytes(br)
		if err != nil {
			return Request{}, err
		}
		data, err := readLPBytes(br)
		if err != nil {
			return Request{}, err
		}
		flags, err := readU32(br)
		if err != nil {
			return Request{}, err
		}
		return Request{Kind: RequestSign, PubkeyBlob: pubkey, Data: data, Flags: SignatureFlags(flags)}, nil

	case msgExtension:
		name, err := readLPBytes(br)
		if err != nil {
			return Request{}, err
		}
		data, err := readLPBytes(br)
		if err != nil {
			return Request{}, err
		}
		return Request{Kind: RequestExtension, ExtName: string(name), ExtData: data}, nil

	case msgAddIdentity, msgRemoveIdentity, msgRemoveAllIdentities,
		msgAddSmartcardKey, msgRemoveSmartcardKey, msgLock, msgUnlock,
		msgAddIDConstrained, msgAddSmartcardKeyConstrd:
		return Request{Kind: RequestUnknown}, nil

	default:
		return Request{Kind: RequestUnknown}, nil
	}
}

// WriteResponse writes resp to w, framed with a 4-byte big-endian length
// prefix.
func WriteResponse(w io.Writer, resp Response) error {
	buf := resp.encode()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// Response is the outgoing, already-decided shape of an agent reply.
type Response struct {
	Type       byte
	Identities []Identity
	AlgoName   string
	Signature  []byte
}

// Failure returns a single-byte Failure response.
func Failure() Response { return Response{Type: MsgFailure} }

// Success returns a single-byte Success response.
func Success() Response { return Response{Type: MsgSuccess} }

// IdentitiesAnswer returns an IdentitiesAnswer response listing ids.
func IdentitiesAnswer(ids []Identity) Response {
	return Response{Type: MsgIdentitiesAnswer, Identities: ids}
}

// SignResponse returns a SignResponse response.
func SignResponse(algoName string, signature []byte) Response {
	return Response{Type: MsgSignResponse, AlgoName: algoName, Signature: signature}
}

func (r Response) encode() []byte {
	buf := []byte{r.Type}
	switch r.Type {
	case MsgFailure, MsgSuccess:
		// single byte, nothing more.

	case MsgIdentitiesAnswer:
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(r.Identities)))
		buf = append(buf, count[:]...)
		for _, id := range r.Identities {
			buf = appendLPBytes(buf, id.KeyBlob)
			buf = appendLPBytes(buf, []byte(id.KeyComment))
		}

	case MsgSignResponse:
		var inner []byte
		inner = appendLPBytes(inner, []byte(r.AlgoName))
		inner = appendLPBytes(inner, r.Signature)
		buf = appendLPBytes(buf, inner)
	}
	return buf
}

func appendLPBytes(dst, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	dst = append(dst, n[:]...)
	return append(dst, b...)
}

func readLPBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated length-prefixed field", ErrProtocolParse)
	}
	return buf, nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated integer field", ErrProtocolParse)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
