// Package mainboilerplate contains shared boilerplate for dafka programs:
// configuration parsing, logging, diagnostics, and Etcd dialing. It provides
// narrowly scoped functions, so that programs needn't buy in to all of them.
package mainboilerplate

// Version and BuildDate of the program, populated by the linker:
//
//	go build -ldflags "-X go.dafka.dev/core/mainboilerplate.Version=..."
var (
	Version   = "development"
	BuildDate = "unknown"
)
