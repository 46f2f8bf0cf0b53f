package session

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// counter makes the NNNN field of a session id monotone per process: two
// sessions created in the same wall-clock second still sort and compare
// distinctly.
var counter uint64

// NewID returns a sortable session id of the shape
// YYYYMMDDThhmmss_NNNN_xxxxxxxx: a UTC timestamp, a per-process monotone
// counter, and an 8-hex short hash: the first 4 bytes of a fresh UUID XORed
// with the process id. Uniqueness is guaranteed within a process by the
// counter; across processes it is statistical, since the short hash
// incorporates the process id and fresh randomness.
func NewID(now time.Time) string {
	n := atomic.AddUint64(&counter, 1)
	u := uuid.New()
	short := binary.BigEndian.Uint32(u[:4]) ^ uint32(os.Getpid())
	return fmt.Sprintf("%s_%04d_%08x", now.UTC().Format("20060102T150405"), n%10000, short)
}
