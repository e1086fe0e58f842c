// Package msgworker serializes reply generation per conversation. Every
// request for one (channel, user) pair hashes onto the same worker's queue,
// so replies leave in arrival order even though the HTTP layer is fully
// concurrent.
package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

const (
	// DefaultWorkers bounds concurrent upstream generations.
	DefaultWorkers = 10
	// DefaultQueueSize bounds each worker's backlog.
	DefaultQueueSize = 100
)

// Job is one inbound generation request plus the work that produces and
// delivers its reply. Run receives the pool's lifecycle context.
type Job struct {
	Request domain.GenerateRequest
	Run     func(ctx context.Context) error
}

// Stats is the snapshot served by the workers admin endpoint.
type Stats struct {
	Workers     int   `json:"workers"`
	QueueSize   int   `json:"queue_size"`
	Queued      int   `json:"queued"`
	QueueDepths []int `json:"queue_depths"`
	Dispatched  int64 `json:"dispatched"`
	Completed   int64 `json:"completed"`
	Dropped     int64 `json:"dropped"`
	Failed      int64 `json:"failed"`
}

// Pool shards jobs over a fixed set of workers by conversation key.
// Dispatch is non-blocking; a full shard queue rejects the job so the HTTP
// layer can push back instead of queueing unboundedly.
type Pool struct {
	queues []chan Job

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	ctx      context.Context

	dispatched atomic.Int64
	completed  atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewPool creates a pool; call Start before dispatching. Non-positive
// arguments fall back to the defaults.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	queues := make([]chan Job, workers)
	for i := range queues {
		queues[i] = make(chan Job, queueSize)
	}
	return &Pool{queues: queues, ctx: context.Background()}
}

// Start launches one goroutine per shard queue.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.work(i, q)
	}
	logrus.Infof("[MSG_WORKER] %d workers up, queue size %d", len(p.queues), cap(p.queues[0]))
}

// TryDispatch enqueues a job on its conversation's shard and reports
// whether it was accepted. Rejections count as drops.
func (p *Pool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		return false
	}

	queue := p.queues[p.shardFor(job.Request.Key())]
	select {
	case queue <- job:
		p.dispatched.Add(1)
		return true
	default:
		p.dropped.Add(1)
		logrus.Warnf("[MSG_WORKER] Shard queue full, rejecting message for %s", job.Request.Key())
		return false
	}
}

// Stop refuses further dispatches, lets the workers finish everything
// already queued, and returns once they have all exited.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		for _, q := range p.queues {
			close(q)
		}
		p.mu.Unlock()

		p.wg.Wait()
		logrus.Info("[MSG_WORKER] All workers stopped")
	})
}

// Stats returns a point-in-time snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	depths := make([]int, len(p.queues))
	queued := 0
	for i, q := range p.queues {
		depths[i] = len(q)
		queued += depths[i]
	}
	return Stats{
		Workers:     len(p.queues),
		QueueSize:   cap(p.queues[0]),
		Queued:      queued,
		QueueDepths: depths,
		Dispatched:  p.dispatched.Load(),
		Completed:   p.completed.Load(),
		Dropped:     p.dropped.Load(),
		Failed:      p.failed.Load(),
	}
}

// shardFor maps a conversation key onto a worker index. The mapping is
// stable for the pool's lifetime, which is what guarantees ordering.
func (p *Pool) shardFor(key domain.ConversationKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) work(id int, queue <-chan Job) {
	defer p.wg.Done()
	for job := range queue {
		p.runOne(id, job)
	}
	logrus.Debugf("[MSG_WORKER] Worker %d drained", id)
}

func (p *Pool) runOne(id int, job Job) {
	key := job.Request.Key()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logrus.Errorf("[MSG_WORKER] Worker %d panic for %s: %v", id, key, r)
		}
	}()

	if err := job.Run(p.ctx); err != nil {
		p.failed.Add(1)
		logrus.WithError(err).Warnf("[MSG_WORKER] Worker %d reply failed for %s", id, key)
		return
	}
	p.completed.Add(1)
}
