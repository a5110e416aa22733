// Package benchmark drives batch-submission load against a set of scabbard
// services with a zipfian access pattern.
package benchmark

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap/go-ycsb/pkg/generator"

	"splinter/scabbard"
)

// Stats accumulates workload results.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Elapsed   time.Duration
}

// Throughput is accepted batches per second.
func (s Stats) Throughput() float64 {
	if s.Elapsed == 0 {
		return 0
	}
	return float64(s.Submitted) / s.Elapsed.Seconds()
}

// Workload submits generated batches to scabbard services. Services are
// picked zipfian-skewed so a hot circuit emerges, as in real deployments.
type Workload struct {
	services  []*scabbard.Service
	skewness  float64
	valueSize int
	stop      int32
}

func NewWorkload(services []*scabbard.Service, skewness float64) *Workload {
	return &Workload{services: services, skewness: skewness, valueSize: 64}
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(r *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

type client struct {
	id   int
	from *Workload
	r    *rand.Rand
	zip  *generator.Zipfian
}

func (w *Workload) newClient(seed int) *client {
	return &client{
		id:   seed,
		from: w,
		r:    rand.New(rand.NewSource(int64(seed)*11 + 31)),
		zip:  generator.NewZipfianWithRange(0, int64(len(w.services)-1), w.skewness),
	}
}

func (c *client) generateBatch(sequence uint64) []byte {
	return []byte(fmt.Sprintf("batch-%d-%d:%s", c.id, sequence, randSeq(c.r, c.from.valueSize)))
}

// Run submits batches from the given number of client goroutines for the
// duration and reports aggregate stats.
func (w *Workload) Run(clients int, duration time.Duration) Stats {
	var stats Stats
	start := time.Now()
	timer := time.AfterFunc(duration, func() { atomic.StoreInt32(&w.stop, 1) })
	defer timer.Stop()

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			c := w.newClient(seed)
			var sequence uint64
			for atomic.LoadInt32(&w.stop) == 0 {
				target := w.services[c.zip.Next(c.r)]
				sequence++
				if err := target.SubmitBatch(c.generateBatch(sequence)); err != nil {
					atomic.AddUint64(&stats.Rejected, 1)
					continue
				}
				atomic.AddUint64(&stats.Submitted, 1)
			}
		}(i)
	}
	wg.Wait()
	stats.Elapsed = time.Since(start)
	return stats
}
