package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"
	"go.dafka.dev/core/codecs"
)

// FrameHeaderLength is the number of leading header bytes of each frame:
// A 4-byte magic word followed by a little-endian length.
const FrameHeaderLength = 8

// MaxFrameLength bounds the body length of a single frame.
const MaxFrameLength = 1 << 24

// SubscriberGreeting is written by a subscriber upon opening a connection to a
// publisher. It lets a publisher sharing its port with other protocols
// recognize frame subscriptions, and is discarded by the publisher.
const SubscriberGreeting = "DAFKA/1 SUB\n"

// AppendFrame encodes the Envelope as a frame appended to |b|, compressing
// its Payload with the Codec. The grown buffer is returned.
func AppendFrame(b []byte, env *Envelope, codec codecs.Codec) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return b, err
	} else if err = codec.Validate(); err != nil {
		return b, err
	}
	var payload, err = codecs.Compress(codec, env.Payload)
	if err != nil {
		return b, err
	}

	var offset = len(b)
	b = append(b, magicWord[:]...)
	b = append(b, 0, 0, 0, 0) // Length placeholder.

	b = append(b, byte(env.Kind))
	b = encoding.EncodeStringAscending(b, env.Topic)
	b = encoding.EncodeStringAscending(b, env.Address)
	b = encoding.EncodeStringAscending(b, env.Subject)
	b = encoding.EncodeVarintAscending(b, env.Sequence)
	b = encoding.EncodeVarintAscending(b, env.Count)
	b = encoding.EncodeVarintAscending(b, int64(len(env.Subjects)))
	for _, s := range env.Subjects {
		b = encoding.EncodeStringAscending(b, s)
	}
	b = append(b, byte(codec))
	b = encoding.EncodeBytesAscending(b, payload)

	var size = len(b) - offset - FrameHeaderLength
	if size > MaxFrameLength {
		return b[:offset], errors.Errorf("frame length %d exceeds maximum %d", size, MaxFrameLength)
	}
	binary.LittleEndian.PutUint32(b[offset+4:offset+8], uint32(size))
	return b, nil
}

// UnpackFrame returns the next frame of content from the Reader, including
// the frame header. If the magic word is not detected (indicating a desync),
// UnpackFrame discards content through the next magic word, returning
// the interleaved but de-synchronized content (which will fail to Decode).
// The returned slice may reference the Reader's buffer, and is invalidated
// by its next read.
func UnpackFrame(r *bufio.Reader) ([]byte, error) {
	var b, err = r.Peek(FrameHeaderLength)

	if err != nil {
		// If we read at least one byte, then an EOF is unexpected (it should
		// occur only on whole-frame boundaries).
		if err == io.EOF && len(b) != 0 {
			err = io.ErrUnexpectedEOF
		}
		if err != io.EOF {
			err = errors.Wrap(err, "Peek(FrameHeaderLength)")
		}
		return nil, err
	}

	if !matchesMagicWord(b) {
		// Scan forward within the buffered region to the beginning of the
		// next magic word, and return the intermediate jumbled content.
		b, _ = r.Peek(r.Buffered())

		var i, j = 1, 1 + len(b) - len(magicWord)
		for ; i < j; i++ {
			if matchesMagicWord(b[i:]) {
				break
			}
		}
		if i > len(b) {
			i = len(b)
		}
		_, _ = r.Discard(i)
		return b[:i], nil
	}

	var length = binary.LittleEndian.Uint32(b[4:])
	if length > MaxFrameLength {
		_, _ = r.Discard(FrameHeaderLength)
		return nil, errors.Errorf("frame length %d exceeds maximum %d", length, MaxFrameLength)
	}
	var size = FrameHeaderLength + int(length)

	// Fast path: the full frame is already buffered. Return the buffer
	// internal slice without copying.
	if b, err = r.Peek(size); err == nil {
		_, _ = r.Discard(size)
		return b, nil
	}

	// Slow path. Allocate and attempt to Read the full frame.
	b = make([]byte, size)
	if _, err = io.ReadFull(r, b); err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return b, errors.Wrap(err, "io.ReadFull")
}

// Decode the frame into an Envelope. The Envelope doesn't reference |frame|.
// ErrDesyncDetected is returned if |frame| doesn't begin with a valid header,
// and ErrUnknownKind if its Kind isn't a member of the protocol.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope

	if len(frame) < FrameHeaderLength || !matchesMagicWord(frame) {
		return env, ErrDesyncDetected
	} else if l := binary.LittleEndian.Uint32(frame[4:]); int(l) != len(frame)-FrameHeaderLength {
		return env, errors.Errorf("frame header length %d doesn't match body length %d",
			l, len(frame)-FrameHeaderLength)
	}
	var b = frame[FrameHeaderLength:]

	if len(b) == 0 {
		return env, errors.New("frame has an empty body")
	}
	env.Kind, b = Kind(b[0]), b[1:]

	if err := env.Kind.Validate(); err != nil {
		return env, err
	}

	var err error
	var numSubjects int64

	if b, env.Topic, err = decodeString(b, "Topic"); err != nil {
		return env, err
	} else if b, env.Address, err = decodeString(b, "Address"); err != nil {
		return env, err
	} else if b, env.Subject, err = decodeString(b, "Subject"); err != nil {
		return env, err
	} else if b, env.Sequence, err = encoding.DecodeVarintAscending(b); err != nil {
		return env, errors.WithMessage(err, "decoding Sequence")
	} else if b, env.Count, err = encoding.DecodeVarintAscending(b); err != nil {
		return env, errors.WithMessage(err, "decoding Count")
	} else if b, numSubjects, err = encoding.DecodeVarintAscending(b); err != nil {
		return env, errors.WithMessage(err, "decoding Subjects length")
	} else if numSubjects < 0 || numSubjects > int64(len(b)) {
		return env, errors.Errorf("invalid Subjects length %d", numSubjects)
	}

	for i := int64(0); i != numSubjects; i++ {
		var s string
		if b, s, err = decodeString(b, "Subjects"); err != nil {
			return env, err
		}
		env.Subjects = append(env.Subjects, s)
	}

	if len(b) == 0 {
		return env, errors.New("frame is missing a payload codec")
	}
	var codec = codecs.Codec(b[0])
	var payload []byte

	if err = codec.Validate(); err != nil {
		return env, err
	} else if b, payload, err = encoding.DecodeBytesAscending(b[1:], nil); err != nil {
		return env, errors.WithMessage(err, "decoding Payload")
	} else if len(b) != 0 {
		return env, errors.Errorf("frame has %d unexpected trailing bytes", len(b))
	} else if payload, err = codecs.Decompress(codec, payload); err != nil {
		return env, err
	}

	if len(payload) == 0 {
		payload = nil
	} else if codec == codecs.Codec_NONE {
		// DecodeBytesAscending may alias |frame|, which is owned by the caller.
		payload = append([]byte(nil), payload...)
	}
	env.Payload = payload

	return env, env.Validate()
}

func decodeString(b []byte, field string) ([]byte, string, error) {
	var rest, s, err = encoding.DecodeBytesAscending(b, nil)
	if err != nil {
		return b, "", errors.WithMessagef(err, "decoding %s", field)
	}
	return rest, string(s), nil
}

func matchesMagicWord(b []byte) bool {
	return len(b) >= len(magicWord) &&
		b[0] == magicWord[0] && b[1] == magicWord[1] && b[2] == magicWord[2] && b[3] == magicWord[3]
}

var (
	// ErrDesyncDetected is returned by Decode upon detection of an invalid frame.
	ErrDesyncDetected = errors.New("detected de-synchronization")
	// ErrUnknownKind is returned for a Kind which is not part of the protocol.
	ErrUnknownKind = errors.New("unknown message kind")
	// magicWord precedes all frames.
	magicWord = [4]byte{0xda, 0xf7, 0x4a, 0x01}
)
