package utils

import (
	"crypto/rand"
	"regexp"
	"sync/atomic"

	"github.com/rs/xid"
)

var circuitIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{5}-[A-Za-z0-9]{5}$`)

const base62 = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCircuitID generates an 11-character circuit id, {5 base62}-{5 base62}.
func NewCircuitID() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	id := make([]byte, 11)
	for i := 0; i < 5; i++ {
		id[i] = base62[int(buf[i])%len(base62)]
	}
	id[5] = '-'
	for i := 5; i < 10; i++ {
		id[i+1] = base62[int(buf[i])%len(base62)]
	}
	return string(id)
}

// ValidateCircuitID reports whether id matches the circuit id format.
func ValidateCircuitID(id string) bool {
	return circuitIDPattern.MatchString(id)
}

// NewConnectionID returns a process-unique connection id.
func NewConnectionID() string {
	return xid.New().String()
}

// NewCorrelationID returns an id for request/response matching.
func NewCorrelationID() string {
	return xid.New().String()
}

var eventID int64

// NextEventID hands out process-local monotonically increasing ids.
func NextEventID() int64 {
	return atomic.AddInt64(&eventID, 1)
}
