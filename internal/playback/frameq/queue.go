// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package frameq implements the fixed-capacity ring of decoded frames that
// decouples decode rate from presentation rate.
package frameq

import (
	"context"
	"sync"

	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
)

// Typical capacities per media type.
const (
	VideoCapacity    = 3
	AudioCapacity    = 9
	SubtitleCapacity = 16
	MaxCapacity      = SubtitleCapacity
)

// Queue is a ring buffer over an owned array of frames. Slots are addressed
// only through indices; pointers returned by the accessors stay valid until
// the slot is consumed (consumer side) or pushed (producer side).
//
// Blocking waits are interrupted when the owning packet queue aborts.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots       [MaxCapacity]media.Frame
	rindex      int
	windex      int
	size        int
	capacity    int
	keepLast    bool
	rindexShown int

	pq   *packetq.Queue
	stop func() bool
}

// New returns a frame queue bound to the abort token of pq. capacity is
// clamped to [1, MaxCapacity].
func New(pq *packetq.Queue, capacity int, keepLast bool) *Queue {
	capacity = max(1, min(capacity, MaxCapacity))
	q := &Queue{capacity: capacity, keepLast: keepLast, pq: pq}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.slots {
		q.slots[i].Reset()
	}
	q.stop = context.AfterFunc(pq.Context(), q.Signal)
	return q
}

// Signal wakes every waiter so it can re-evaluate its condition.
func (q *Queue) Signal() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) aborted() bool { return q.pq.Aborted() }

// PeekWritable returns the next free slot, blocking while the queue is full.
// It returns nil only when the stream is aborted.
func (q *Queue) PeekWritable() *media.Frame {
	q.mu.Lock()
	for q.size >= q.capacity && !q.aborted() {
		q.cond.Wait()
	}
	if q.aborted() {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return &q.slots[q.windex]
}

// Push commits the slot returned by PeekWritable and wakes the consumer.
func (q *Queue) Push() {
	q.mu.Lock()
	q.windex++
	if q.windex == q.capacity {
		q.windex = 0
	}
	q.size++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Peek returns the frame to display next.
func (q *Queue) Peek() *media.Frame {
	return &q.slots[(q.rindex+q.rindexShown)%q.capacity]
}

// PeekNext returns the frame after Peek.
func (q *Queue) PeekNext() *media.Frame {
	return &q.slots[(q.rindex+q.rindexShown+1)%q.capacity]
}

// PeekLast returns the frame shown last. With keepLast it stays valid after
// Next until the slot is overwritten.
func (q *Queue) PeekLast() *media.Frame {
	return &q.slots[q.rindex]
}

// PeekReadable waits until a frame is available. It returns nil when the
// stream is aborted.
func (q *Queue) PeekReadable() *media.Frame {
	q.mu.Lock()
	for q.size-q.rindexShown <= 0 && !q.aborted() {
		q.cond.Wait()
	}
	if q.aborted() {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.Peek()
}

// PeekReadableContext is PeekReadable with a bounded wait. It returns nil
// when ctx ends or the stream is aborted.
func (q *Queue) PeekReadableContext(ctx context.Context) *media.Frame {
	stop := context.AfterFunc(ctx, q.Signal)
	defer stop()

	q.mu.Lock()
	for q.size-q.rindexShown <= 0 && !q.aborted() && ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.aborted() || q.size-q.rindexShown <= 0 {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.Peek()
}

// Next consumes the current frame. With keepLast the first consumed frame
// only marks the read index as shown so PeekLast keeps addressing it.
func (q *Queue) Next() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keepLast && q.rindexShown == 0 {
		q.rindexShown = 1
		return
	}
	q.slots[q.rindex].Reset()
	q.rindex++
	if q.rindex == q.capacity {
		q.rindex = 0
	}
	q.size--
	q.cond.Broadcast()
}

// Remaining returns the number of frames not yet shown.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size - q.rindexShown
}

// IsEmpty reports whether no unshown frame is queued.
func (q *Queue) IsEmpty() bool { return q.Remaining() == 0 }

// Len returns the number of occupied slots including the last shown one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// RindexShown reports whether the read slot holds an already shown frame.
func (q *Queue) RindexShown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rindexShown == 1
}

// Capacity returns the configured slot count.
func (q *Queue) Capacity() int { return q.capacity }

// LastPos returns the byte position of the last shown frame when it belongs
// to the current serial of the packet queue.
func (q *Queue) LastPos() (int64, bool) {
	serial := q.pq.Serial()
	q.mu.Lock()
	defer q.mu.Unlock()
	fp := &q.slots[q.rindex]
	if q.rindexShown == 1 && fp.Serial == serial && fp.Pos >= 0 {
		return fp.Pos, true
	}
	return -1, false
}

// Update runs fn under the queue lock and wakes all waiters afterwards. It is
// how the render side publishes slot state such as surface allocation.
func (q *Queue) Update(fn func()) {
	q.mu.Lock()
	fn()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// WaitUntil blocks until pred holds, evaluated under the queue lock, or the
// stream is aborted. It reports whether pred was satisfied.
func (q *Queue) WaitUntil(pred func() bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !pred() && !q.aborted() {
		q.cond.Wait()
	}
	return pred()
}

// Destroy detaches the queue from its packet queue and drops frame payloads.
func (q *Queue) Destroy() {
	q.stop()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.slots {
		q.slots[i] = media.Frame{}
	}
	q.cond.Broadcast()
}
