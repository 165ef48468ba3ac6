package tunnel

import (
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// connStats tracks byte counters for a carrier or a logical channel,
// adapted from the teacher's ConnStats (share/connstats.go) with byte
// totals added so teardown logging can report transfer volume the way
// ssh.go's "Close (sent %s received %s)" line does.
type connStats struct {
	bytesRead    int64
	bytesWritten int64
}

func (c *connStats) addRead(n int)    { atomic.AddInt64(&c.bytesRead, int64(n)) }
func (c *connStats) addWritten(n int) { atomic.AddInt64(&c.bytesWritten, int64(n)) }

func (c *connStats) read() int64    { return atomic.LoadInt64(&c.bytesRead) }
func (c *connStats) written() int64 { return atomic.LoadInt64(&c.bytesWritten) }

// String renders "sent <X> received <Y>" using sizestr's human-readable
// byte formatting.
func (c *connStats) String() string {
	return "sent " + sizestr.ToString(c.written()) + " received " + sizestr.ToString(c.read())
}
