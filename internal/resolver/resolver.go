// Package resolver implements the tunnel's asynchronous DNS worker
// (component F): a background goroutine that resolves domain names to an
// IPv4 address without ever blocking the carrier driver goroutines, using
// github.com/miekg/dns to issue the actual queries and to retry against
// successive resolvers on failure.
package resolver

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/sammck-go/tunbridge/internal/logging"
)

// MaxRetries is the number of resolution attempts made before a query is
// reported as failed.
const MaxRetries = 8

// fallbackServer is used when the system resolver config can't be read or
// is exhausted before MaxRetries attempts are made.
const fallbackServer = "8.8.8.8:53"

// Query is one name resolution request, keyed by the logical channel that
// is waiting on it so the event loop can route (or drop) the eventual
// Result.
type Query struct {
	ChannID uint32
	Magic   uint32
	Domain  string
	Port    uint16
}

// Result is posted back to the event loop once a Query completes or
// exhausts its retries.
type Result struct {
	Query Query
	IPv4  [4]byte
	OK    bool
	// LastReseed carries the diagnostic string the final failed attempt
	// produced, standing in for the source's "re-seeded with the previous
	// failure's returned string" retry strategy.
	LastReseed string
}

// Worker runs getaddrinfo-equivalent lookups on its own goroutine(s),
// decoupled from the carrier driver goroutines by two channels, mirroring
// the spec's "two lock-protected FIFO queues".
type Worker struct {
	log     *logging.Logger
	queries chan Query
	results chan Result
	done    chan struct{}
}

// NewWorker starts a DNS worker with the given query-queue depth.
func NewWorker(log *logging.Logger, queueDepth int) *Worker {
	w := &Worker{
		log:     log,
		queries: make(chan Query, queueDepth),
		results: make(chan Result, queueDepth),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues a Query for resolution. It does not block the caller's
// event loop beyond the channel send (the queue is expected to be sized
// generously relative to burst rate).
func (w *Worker) Submit(q Query) {
	select {
	case w.queries <- q:
	case <-w.done:
	}
}

// Results returns the channel the event loop should drain once per poll
// iteration (spec §4.F: "the event loop drains the outbound queue once per
// poll iteration").
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Close stops the worker. In-flight queries are abandoned.
func (w *Worker) Close() {
	close(w.done)
}

func (w *Worker) run() {
	servers := loadServers()
	for {
		select {
		case <-w.done:
			return
		case q := <-w.queries:
			w.results <- w.resolve(q, servers)
		}
	}
}

func (w *Worker) resolve(q Query, servers []string) Result {
	var lastReseed string
	c := new(dns.Client)
	c.Timeout = 3 * time.Second

	for attempt := 0; attempt < MaxRetries; attempt++ {
		server := servers[attempt%len(servers)]
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(q.Domain), dns.TypeA)

		resp, _, err := c.Exchange(msg, server)
		if err != nil {
			lastReseed = err.Error()
			w.log.Debugf("resolve %s via %s attempt %d failed: %s", q.Domain, server, attempt, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastReseed = dns.RcodeToString[resp.Rcode]
			w.log.Debugf("resolve %s via %s attempt %d rcode %s", q.Domain, server, attempt, lastReseed)
			continue
		}
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				ip4 := a.A.To4()
				if ip4 == nil {
					continue
				}
				var out [4]byte
				copy(out[:], ip4)
				return Result{Query: q, IPv4: out, OK: true}
			}
		}
		lastReseed = fmt.Sprintf("no A record for %s", q.Domain)
	}
	return Result{Query: q, OK: false, LastReseed: lastReseed}
}

func loadServers() []string {
	return loadServersFrom("/etc/resolv.conf")
}

func loadServersFrom(path string) []string {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{fallbackServer}
	}
	servers := make([]string, 0, len(cfg.Servers)+1)
	for _, s := range cfg.Servers {
		servers = append(servers, fmt.Sprintf("%s:%s", s, cfg.Port))
	}
	servers = append(servers, fallbackServer)
	return servers
}
