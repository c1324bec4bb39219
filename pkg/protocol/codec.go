package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TCP framing: every field is a 2-byte big-endian length followed by that
// many bytes of UTF-8 text. Replies use the same prefix, and the first
// byte of the framed payload is the Status.

// WriteField writes s as one length-prefixed frame.
func WriteField(w io.Writer, s string) error {
	if len(s) > MaxFieldSize {
		return fmt.Errorf("write field of %d bytes: %w", len(s), ErrFieldTooLarge)
	}

	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(s)))
	copy(buf[2:], s)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write field: %w", err)
	}
	return nil
}

// ReadField reads one length-prefixed frame. It returns io.EOF if the
// stream ends cleanly before the prefix, and io.ErrUnexpectedEOF if it
// ends inside a frame.
func ReadField(r io.Reader) (string, error) {
	payload, err := readFrame(r)
	if err != nil {
		return "", err
	}
	if len(payload) > MaxFieldSize {
		return "", fmt.Errorf("read field of %d bytes: %w", len(payload), ErrFieldTooLarge)
	}
	return string(payload), nil
}

// WriteReply writes a status-tagged reply frame.
func WriteReply(w io.Writer, rep Reply) error {
	n := 1 + len(rep.Text)
	if n > math.MaxUint16 {
		return fmt.Errorf("write reply of %d bytes: %w", n, ErrFieldTooLarge)
	}

	buf := make([]byte, 2+n)
	binary.BigEndian.PutUint16(buf[:2], uint16(n))
	buf[2] = byte(rep.Status)
	copy(buf[3:], rep.Text)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}

// ReadReply reads one reply frame written by WriteReply.
func ReadReply(r io.Reader) (Reply, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Reply{}, err
	}
	return UnmarshalReply(payload)
}

// MarshalReply encodes a reply as a UDP datagram payload.
func MarshalReply(rep Reply) []byte {
	buf := make([]byte, 1+len(rep.Text))
	buf[0] = byte(rep.Status)
	copy(buf[1:], rep.Text)
	return buf
}

// UnmarshalReply decodes a status-tagged payload, from either a TCP reply
// frame or a UDP reply datagram.
func UnmarshalReply(b []byte) (Reply, error) {
	if len(b) == 0 {
		return Reply{}, fmt.Errorf("empty payload: %w", ErrMalformedReply)
	}
	status := Status(b[0])
	if !status.Valid() {
		return Reply{}, fmt.Errorf("unknown status %d: %w", b[0], ErrMalformedReply)
	}
	return Reply{Status: status, Text: string(b[1:])}, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("eof while reading length prefix: %w", err)
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("eof while reading %d-byte frame: %w", n, io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return payload, nil
}
