// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package packetq implements the serial packet queue that sits between the
// demuxer and a stream decoder.
//
// Every packet is tagged with the queue serial at insertion time. Flush bumps
// the serial so consumers can discard in-flight data that predates a seek.
// The queue is aborted through a context derived from the session context, so
// a single cancellation releases every blocked consumer of a session.
package packetq

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/xg2g-player/internal/media"
)

// ErrAborted is returned by Put and Get once the queue has been aborted.
var ErrAborted = errors.New("packetq: aborted")

// ErrWouldBlock is returned by a non-blocking Get on an empty queue.
var ErrWouldBlock = media.ErrWouldBlock

// entryOverhead is accounted per queued packet so that empty packets still
// contribute to the queue size.
const entryOverhead = 64

type entry struct {
	pkt    media.Packet
	serial int
}

// Queue is a FIFO of compressed packets guarded by a mutex and a condition
// variable. The zero value is not usable; use New.
type Queue struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	entries  []entry
	serial   int
	size     int
	duration int64

	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
}

// New returns an empty queue whose abort token is derived from parent.
// Cancelling parent aborts the queue.
func New(parent context.Context, name string) *Queue {
	if parent == nil {
		parent = context.Background()
	}
	q := &Queue{name: name}
	q.cond = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(parent)
	// Waiters re-check the context under the lock, so broadcasting while
	// holding it cannot race with a waiter about to sleep.
	q.stop = context.AfterFunc(q.ctx, q.wakeAll)
	return q
}

// Name returns the queue label used in logs and metrics.
func (q *Queue) Name() string { return q.name }

func (q *Queue) wakeAll() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Context returns the abort token of the queue. It is done once the queue is
// aborted.
func (q *Queue) Context() context.Context { return q.ctx }

// Done is closed when the queue is aborted.
func (q *Queue) Done() <-chan struct{} { return q.ctx.Done() }

// Aborted reports whether Abort was called or the parent context ended.
func (q *Queue) Aborted() bool { return q.ctx.Err() != nil }

// Abort releases all blocked consumers. Subsequent Put and Get calls return
// ErrAborted. Abort is idempotent and safe from any goroutine.
func (q *Queue) Abort() {
	q.cancel()
	q.wakeAll()
}

// Put appends pkt tagged with the current serial and wakes one consumer.
func (q *Queue) Put(pkt media.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.putLocked(pkt)
}

func (q *Queue) putLocked(pkt media.Packet) error {
	if q.ctx.Err() != nil {
		return ErrAborted
	}
	q.entries = append(q.entries, entry{pkt: pkt, serial: q.serial})
	q.size += len(pkt.Data) + entryOverhead
	q.duration += pkt.Duration
	q.cond.Signal()
	return nil
}

// PutFlushMarker injects the discontinuity sentinel so the decoder resets its
// internal state exactly where the serial changed.
func (q *Queue) PutFlushMarker() error {
	return q.Put(media.NewFlush())
}

// PutEndOfStream injects the end-of-data sentinel for streamIndex. The queue
// stays open.
func (q *Queue) PutEndOfStream(streamIndex int) error {
	return q.Put(media.NewEndOfStream(streamIndex))
}

// Get dequeues the oldest packet and the serial it was queued under.
// With block set it waits until a packet arrives or the queue is aborted.
func (q *Queue) Get(block bool) (media.Packet, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.ctx.Err() != nil {
			return media.Packet{}, 0, ErrAborted
		}
		if len(q.entries) > 0 {
			e := q.entries[0]
			q.entries[0] = entry{}
			q.entries = q.entries[1:]
			q.size -= len(e.pkt.Data) + entryOverhead
			q.duration -= e.pkt.Duration
			return e.pkt, e.serial, nil
		}
		if !block {
			return media.Packet{}, 0, ErrWouldBlock
		}
		q.cond.Wait()
	}
}

// Flush drops all queued packets, bumps the serial and zeroes the counters in
// one critical section. It returns the new serial.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
	return q.serial
}

func (q *Queue) flushLocked() {
	clear(q.entries)
	q.entries = q.entries[:0]
	q.size = 0
	q.duration = 0
	q.serial++
}

// Start opens a new serial segment: the queue is flushed and the flush marker
// is queued under the new serial.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
	return q.putLocked(media.NewFlush())
}

// Serial returns the current generation.
func (q *Queue) Serial() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Size returns the queued payload bytes plus a fixed per-packet overhead.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the sum of queued packet durations in stream time base.
func (q *Queue) Duration() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Stats is a consistent snapshot of the queue counters.
type Stats struct {
	Serial   int
	Packets  int
	Bytes    int
	Duration int64
	Aborted  bool
}

// Stats returns all counters under one lock acquisition.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Serial:   q.serial,
		Packets:  len(q.entries),
		Bytes:    q.size,
		Duration: q.duration,
		Aborted:  q.ctx.Err() != nil,
	}
}

// Destroy aborts the queue and drops its contents.
func (q *Queue) Destroy() {
	q.Abort()
	q.stop()
	q.mu.Lock()
	clear(q.entries)
	q.entries = nil
	q.size = 0
	q.duration = 0
	q.mu.Unlock()
}
