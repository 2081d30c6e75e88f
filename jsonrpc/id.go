package jsonrpc

import (
	"math/rand/v2"
	"time"
)

// NewID returns a payload id: the current unix time in milliseconds scaled to
// microsecond magnitude plus a random offset in [0, 1000). Ids are unique per
// sender with overwhelming probability and roughly increase with time.
func NewID() uint64 {
	return uint64(time.Now().UnixMilli())*1000 + rand.Uint64N(1000)
}
