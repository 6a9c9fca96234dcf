package protocol

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"go.dafka.dev/core/codecs"
	gc "gopkg.in/check.v1"
)

type FramingSuite struct{}

func (s *FramingSuite) TestRoundTripOfEachKind(c *gc.C) {
	var fixtures = []Envelope{
		{Kind: Kind_MSG, Topic: "orders", Address: "P1", Subject: "orders", Sequence: 5, Payload: []byte("hello")},
		{Kind: Kind_DIRECT_MSG, Topic: "C1", Address: "P1", Subject: "orders", Sequence: 0, Payload: []byte{0x00, 0x01, 0xff}},
		{Kind: Kind_HEAD, Topic: "orders", Address: "P1", Subject: "orders", Sequence: 1 << 40},
		{Kind: Kind_DIRECT_HEAD, Topic: "C1", Address: "P1", Subject: "orders", Sequence: 3},
		{Kind: Kind_FETCH, Topic: "P1", Address: "C1", Subject: "orders", Sequence: 7, Count: 3},
		{Kind: Kind_GET_HEADS, Topic: "orders", Address: "C1"},
		{Kind: Kind_STORE_HELLO, Topic: "C1", Address: "S1"},
		{Kind: Kind_CONSUMER_HELLO, Topic: "S1", Address: "C1", Subjects: []string{"HELLO", "orders", ""}},
	}

	for _, codec := range []codecs.Codec{codecs.Codec_NONE, codecs.Codec_SNAPPY, codecs.Codec_GZIP} {
		var b []byte
		var err error

		for i := range fixtures {
			b, err = AppendFrame(b, &fixtures[i], codec)
			c.Assert(err, gc.IsNil)
		}
		var br = bufio.NewReader(bytes.NewReader(b))

		for i := range fixtures {
			frame, err := UnpackFrame(br)
			c.Assert(err, gc.IsNil)

			env, err := Decode(frame)
			c.Check(err, gc.IsNil)
			c.Check(env, gc.DeepEquals, fixtures[i])
		}
		var _, err2 = UnpackFrame(br)
		c.Check(err2, gc.Equals, io.EOF)
	}
}

func (s *FramingSuite) TestHeaderEncoding(c *gc.C) {
	var b, err = AppendFrame(nil, &Envelope{Kind: Kind_GET_HEADS, Topic: "t"}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)

	c.Check(b[:4], gc.DeepEquals, magicWord[:])
	c.Check(int(b[4])|int(b[5])<<8|int(b[6])<<16|int(b[7])<<24, gc.Equals, len(b)-FrameHeaderLength)
	c.Check(Kind(b[FrameHeaderLength]), gc.Equals, Kind_GET_HEADS)

	// A following frame is appended to |b|, and the first is unchanged.
	bb, err := AppendFrame(b, &Envelope{Kind: Kind_GET_HEADS, Topic: "t"}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)
	c.Check(bb[:len(b)], gc.DeepEquals, bb[len(b):])
}

func (s *FramingSuite) TestDecodedPayloadDoesNotAliasFrame(c *gc.C) {
	var b, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG, Topic: "t", Payload: []byte("content")}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)

	env, err := Decode(b)
	c.Assert(err, gc.IsNil)

	for i := range b {
		b[i] = 0
	}
	c.Check(string(env.Payload), gc.Equals, "content")
}

func (s *FramingSuite) TestDesyncRecovery(c *gc.C) {
	var frame, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG, Topic: "t", Sequence: 1}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)

	var br = bufio.NewReader(io.MultiReader(
		bytes.NewReader([]byte("garbage")), bytes.NewReader(frame)))

	// Expect the jumbled prefix is returned first, and fails to decode.
	b, err := UnpackFrame(br)
	c.Check(err, gc.IsNil)
	c.Check(string(b), gc.Equals, "garbage")

	_, err = Decode(b)
	c.Check(err, gc.Equals, ErrDesyncDetected)

	// The following frame is read and decoded as normal.
	b, err = UnpackFrame(br)
	c.Check(err, gc.IsNil)

	env, err := Decode(b)
	c.Check(err, gc.IsNil)
	c.Check(env.Sequence, gc.Equals, int64(1))
}

func (s *FramingSuite) TestTruncatedFrame(c *gc.C) {
	var frame, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG, Topic: "t", Payload: []byte("some content")}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)

	var br = bufio.NewReader(bytes.NewReader(frame[:len(frame)-3]))
	_, err = UnpackFrame(br)
	c.Check(errors.Cause(err), gc.Equals, io.ErrUnexpectedEOF)

	// A partial header is also unexpected.
	br = bufio.NewReader(bytes.NewReader(frame[:5]))
	_, err = UnpackFrame(br)
	c.Check(errors.Cause(err), gc.Equals, io.ErrUnexpectedEOF)
}

func (s *FramingSuite) TestDecodeErrorCases(c *gc.C) {
	var frame, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG, Topic: "t", Sequence: 2}, codecs.Codec_NONE)
	c.Assert(err, gc.IsNil)

	// Unknown Kind.
	var unknown = append([]byte(nil), frame...)
	unknown[FrameHeaderLength] = 'Z'
	_, err = Decode(unknown)
	c.Check(err, gc.Equals, ErrUnknownKind)

	// Header length mismatch.
	_, err = Decode(frame[:len(frame)-1])
	c.Check(err, gc.ErrorMatches, "frame header length .* doesn't match body length .*")

	// Trailing content.
	var trailing = append(append([]byte(nil), frame...), 0xff)
	trailing[4]++
	_, err = Decode(trailing)
	c.Check(err, gc.ErrorMatches, "frame has 1 unexpected trailing bytes")

	// Too short.
	_, err = Decode(frame[:3])
	c.Check(err, gc.Equals, ErrDesyncDetected)
}

func (s *FramingSuite) TestEncodeValidates(c *gc.C) {
	var _, err = AppendFrame(nil, &Envelope{Kind: Kind(0x01)}, codecs.Codec_NONE)
	c.Check(errors.Cause(err), gc.Equals, ErrUnknownKind)

	_, err = AppendFrame(nil, &Envelope{Kind: Kind_FETCH, Topic: "P1"}, codecs.Codec_NONE)
	c.Check(err, gc.ErrorMatches, `invalid FETCH Count \(0; expected > 0\)`)

	_, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG, Sequence: -1}, codecs.Codec_NONE)
	c.Check(err, gc.ErrorMatches, `invalid Sequence \(-1; expected >= 0\)`)

	_, err = AppendFrame(nil, &Envelope{Kind: Kind_MSG}, codecs.Codec(42))
	c.Check(err, gc.ErrorMatches, `unknown codec Codec\(42\)`)
}

var _ = gc.Suite(&FramingSuite{})

func Test(t *testing.T) { gc.TestingT(t) }
