package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOverloaded is returned when the queue is saturated and the ticket's
// priority is below the admission threshold.
var ErrOverloaded = errors.New("queue overloaded")

// Config tunes the work queue. Zero values fall back to the defaults below.
type Config struct {
	// Capacity is the total cost units that may execute concurrently.
	Capacity int
	// MaxPending is the backlog size beyond which low-priority work is shed.
	MaxPending int
	// AdmissionPriority is the minimum priority admitted once the backlog
	// exceeds MaxPending.
	AdmissionPriority int
	// AgingThreshold is how long a ticket may wait before promotion.
	AgingThreshold time.Duration
	// AgingBoost is added to the priority of every aged ticket.
	AgingBoost int
	// QuotaCoolOff halves dispatch capacity for this window after a provider
	// reports quota exhaustion.
	QuotaCoolOff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 8
	}

	if c.MaxPending <= 0 {
		c.MaxPending = 256
	}

	if c.AdmissionPriority == 0 {
		c.AdmissionPriority = PriorityNormal
	}

	if c.AgingThreshold <= 0 {
		c.AgingThreshold = 30 * time.Second
	}

	if c.AgingBoost <= 0 {
		c.AgingBoost = 5
	}

	if c.QuotaCoolOff <= 0 {
		c.QuotaCoolOff = time.Minute
	}

	return c
}

// WorkQueue admits tickets and dispatches them to their handlers under a
// global cost capacity, highest priority first and FIFO within a priority.
// All methods are safe for concurrent use.
type WorkQueue struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	pending    ticketHeap
	inFlight   int
	seq        uint64
	quotaUntil time.Time
	avgService time.Duration
	closed     bool

	wg sync.WaitGroup
}

func NewWorkQueue(config Config, logger *slog.Logger) *WorkQueue {
	q := &WorkQueue{
		config:     config.withDefaults(),
		logger:     logger.With("module", "work_queue"),
		avgService: 5 * time.Second,
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Enqueue admits a ticket and immediately reports its queue position and an
// estimated wait. Saturated queues reject work below the admission threshold
// with ErrOverloaded.
func (q *WorkQueue) Enqueue(ticket *Ticket) (Admission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Admission{}, errors.New("queue closed")
	}

	if len(q.pending) >= q.config.MaxPending && ticket.Priority < q.config.AdmissionPriority {
		return Admission{}, ErrOverloaded
	}

	if ticket.EnqueuedAt.IsZero() {
		ticket.EnqueuedAt = time.Now().UTC()
	}

	q.seq++
	ticket.seq = q.seq

	heap.Push(&q.pending, ticket)
	q.cond.Signal()

	position := q.position(ticket)

	return Admission{
		Position:      position,
		EstimatedWait: q.estimateWait(position, ticket.Cost),
	}, nil
}

// Dispatch drains the queue until ctx is cancelled. Each dispatched ticket
// runs its handler on a dedicated goroutine; the ticket's cost is held until
// the handler returns.
func (q *WorkQueue) Dispatch(ctx context.Context) {
	go func() {
		<-ctx.Done()

		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()

		var ticket *Ticket

		for {
			if q.closed {
				q.mu.Unlock()

				q.wg.Wait()

				return
			}

			ticket = q.takeFitting()
			if ticket != nil {
				break
			}

			q.cond.Wait()
		}

		q.inFlight += ticket.Cost
		q.mu.Unlock()

		q.wg.Add(1)

		go q.run(ctx, ticket)
	}
}

func (q *WorkQueue) run(ctx context.Context, ticket *Ticket) {
	defer q.wg.Done()

	started := time.Now()

	ticket.Execute(ctx, ticket)

	elapsed := time.Since(started)

	q.mu.Lock()
	q.inFlight -= ticket.Cost
	// EWMA over observed service times feeds the wait estimate.
	q.avgService = (q.avgService*7 + elapsed) / 8
	q.cond.Broadcast()
	q.mu.Unlock()
}

// takeFitting removes and returns the best pending ticket whose cost fits the
// remaining capacity. Caller holds q.mu.
func (q *WorkQueue) takeFitting() *Ticket {
	free := q.effectiveCapacity() - q.inFlight

	best := -1

	for i, ticket := range q.pending {
		if ticket.Cost > free {
			continue
		}

		if best == -1 || q.pending.less(ticket, q.pending[best]) {
			best = i
		}
	}

	if best == -1 {
		return nil
	}

	ticket, ok := heap.Remove(&q.pending, best).(*Ticket)
	if !ok {
		return nil
	}

	return ticket
}

func (q *WorkQueue) effectiveCapacity() int {
	capacity := q.config.Capacity

	if time.Now().Before(q.quotaUntil) {
		capacity /= 2
		if capacity < 1 {
			capacity = 1
		}
	}

	return capacity
}

// ReportQuotaExhausted halves dispatch capacity for the configured cool-off
// window. Called by the executor when a provider signals quota exhaustion.
func (q *WorkQueue) ReportQuotaExhausted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.quotaUntil = time.Now().Add(q.config.QuotaCoolOff)

	q.logger.Warn("Provider quota exhausted, applying dispatch backpressure",
		"cool_off", q.config.QuotaCoolOff)
}

// PromoteAged raises the priority of tickets waiting longer than the aging
// threshold, bounding starvation under a stream of high-priority work.
// Returns how many tickets were promoted.
func (q *WorkQueue) PromoteAged() int {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	promoted := 0

	for _, ticket := range q.pending {
		waitedSince := ticket.EnqueuedAt
		if ticket.promotedAt.After(waitedSince) {
			waitedSince = ticket.promotedAt
		}

		if now.Sub(waitedSince) >= q.config.AgingThreshold {
			ticket.Priority += q.config.AgingBoost
			ticket.promotedAt = now

			promoted++
		}
	}

	if promoted > 0 {
		heap.Init(&q.pending)
		q.cond.Broadcast()

		q.logger.Debug("Promoted aged tickets", "count", promoted)
	}

	return promoted
}

// Pending reports the backlog size.
func (q *WorkQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// InFlight reports the cost units currently executing.
func (q *WorkQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.inFlight
}

// position counts the tickets scheduled ahead of the given one. Caller holds
// q.mu.
func (q *WorkQueue) position(ticket *Ticket) int {
	ahead := 0

	for _, other := range q.pending {
		if other != ticket && q.pending.less(other, ticket) {
			ahead++
		}
	}

	return ahead + 1
}

func (q *WorkQueue) estimateWait(position int, cost int) time.Duration {
	slots := q.effectiveCapacity()
	if slots < 1 {
		slots = 1
	}

	rounds := (position*cost + slots - 1) / slots

	return time.Duration(rounds) * q.avgService
}

// ticketHeap orders by priority descending, then enqueue sequence ascending
// (FIFO within a priority).
type ticketHeap []*Ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) less(a, b *Ticket) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	return a.seq < b.seq
}

func (h ticketHeap) Less(i, j int) bool { return h.less(h[i], h[j]) }
func (h ticketHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *ticketHeap) Push(x any) {
	ticket, ok := x.(*Ticket)
	if ok {
		*h = append(*h, ticket)
	}
}

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}
