// Package dblock serialises tests that share an external database across
// package test binaries by holding a local TCP port.
package dblock

import (
	"net"
	"time"
)

// Resource names a shared backend. Tests on different resources do not block
// each other.
type Resource string

const (
	Postgres Resource = "127.0.0.1:45432"
	Redis    Resource = "127.0.0.1:46379"
)

// Acquire blocks until the lock for res is held and returns its release func.
func Acquire(res Resource) func() {
	for {
		ln, err := net.Listen("tcp", string(res))
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
