package protocol

import "fmt"

// Kind identifies the type of a protocol message. Its value is the leading
// body byte of each encoded frame.
type Kind byte

const (
	// Kind_MSG is a sequenced message broadcast by a producer under a subject.
	Kind_MSG Kind = 'M'
	// Kind_DIRECT_MSG is a sequenced message sent by a producer or store to
	// one consumer, typically in answer to a FETCH.
	Kind_DIRECT_MSG Kind = 'D'
	// Kind_FETCH requests a range of sequences of a subject from a producer.
	Kind_FETCH Kind = 'F'
	// Kind_HEAD is a periodic broadcast of a producer's highest sequence.
	Kind_HEAD Kind = 'H'
	// Kind_DIRECT_HEAD is a HEAD sent to one consumer, in answer to GET_HEADS.
	Kind_DIRECT_HEAD Kind = 'E'
	// Kind_GET_HEADS asks producers of a subject to report their heads.
	Kind_GET_HEADS Kind = 'G'
	// Kind_CONSUMER_HELLO declares to a store the subjects to be replayed.
	Kind_CONSUMER_HELLO Kind = 'W'
	// Kind_STORE_HELLO announces a store to a consumer.
	Kind_STORE_HELLO Kind = 'L'
)

var kindNames = map[Kind]string{
	Kind_MSG:            "MSG",
	Kind_DIRECT_MSG:     "DIRECT_MSG",
	Kind_FETCH:          "FETCH",
	Kind_HEAD:           "HEAD",
	Kind_DIRECT_HEAD:    "DIRECT_HEAD",
	Kind_GET_HEADS:      "GET_HEADS",
	Kind_CONSUMER_HELLO: "CONSUMER_HELLO",
	Kind_STORE_HELLO:    "STORE_HELLO",
}

// String returns the name of the Kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%#x)", byte(k))
}

// Validate returns ErrUnknownKind if the Kind is not a member of the protocol.
func (k Kind) Validate() error {
	if _, ok := kindNames[k]; !ok {
		return ErrUnknownKind
	}
	return nil
}

// IsMessage is true of MSG and DIRECT_MSG.
func (k Kind) IsMessage() bool { return k == Kind_MSG || k == Kind_DIRECT_MSG }

// IsHead is true of HEAD and DIRECT_HEAD.
func (k Kind) IsHead() bool { return k == Kind_HEAD || k == Kind_DIRECT_HEAD }
