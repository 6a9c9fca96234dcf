// Package protocol defines the messages exchanged by dafka producers, stores
// and consumers, and their wire framing.
//
// Every frame is a fixed header, consisting of a 4-byte "magic word" (for
// de-synchronization detection) and a little-endian uint32 length, followed
// by a body of order-preserving field encodings. The body leads with the
// Kind of the message and its Topic, which together are the key over which
// subscribers filter frames: a Filter matches an Envelope of the same Kind
// whose Topic has the Filter's Prefix.
//
// Broadcast messages (MSG, HEAD, GET_HEADS) carry the subject as Topic.
// Directed messages (DIRECT_MSG, DIRECT_HEAD, FETCH, STORE_HELLO,
// CONSUMER_HELLO) carry the address of their intended recipient as Topic,
// which layers point-to-point addressing over the same broadcast transport.
package protocol
