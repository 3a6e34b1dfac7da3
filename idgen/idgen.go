// Package idgen provides pluggable ID generation for packetd.
//
// Constructors across the runtime accept a Generator, making the ID
// strategy a startup-time decision rather than a compile-time one.
// Instance ids are `inst_`-prefixed UUIDv7s; request ids use NanoID.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short, URL-safe, fast. Use where UUIDv7 is too verbose (request ids).
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers (e.g. "inst_", "img_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the packetd default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// NewInstanceID produces an `inst_`-prefixed instance id.
var NewInstanceID Generator = Prefixed("inst_", Default)

// NewImageID produces an `img_`-prefixed packet image id.
var NewImageID Generator = Prefixed("img_", Default)

// NewRequestID produces a short id for correlating one dispatch across logs.
var NewRequestID Generator = NanoID(12)
