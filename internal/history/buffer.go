package history

import (
	"errors"
	"fmt"
	"sync"

	"tick-oracle/internal/domain"
)

const DefaultCapacity = 1000

var (
	ErrOutOfOrder    = errors.New("sample older than the latest buffered sample")
	ErrInvalidSample = errors.New("invalid price sample")
)

// Buffer is a bounded, time-ordered price history. The oldest sample is
// evicted once capacity is reached. Safe for one writer and many readers.
type Buffer struct {
	mu       sync.RWMutex
	samples  []domain.PriceSample
	start    int
	size     int
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		samples:  make([]domain.PriceSample, capacity),
		capacity: capacity,
	}
}

// Append adds a sample. Invalid samples and samples older than the newest
// buffered one are rejected; equal timestamps are allowed.
func (b *Buffer) Append(s domain.PriceSample) error {
	if !s.Valid() {
		return ErrInvalidSample
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size > 0 {
		last := b.samples[(b.start+b.size-1)%b.capacity]
		if s.Timestamp.Before(last.Timestamp) {
			return fmt.Errorf("%w: %s < %s", ErrOutOfOrder, s.Timestamp, last.Timestamp)
		}
	}

	if b.size < b.capacity {
		b.samples[(b.start+b.size)%b.capacity] = s
		b.size++
		return nil
	}
	b.samples[b.start] = s
	b.start = (b.start + 1) % b.capacity
	return nil
}

// Snapshot returns a copy of the buffered samples, oldest first.
func (b *Buffer) Snapshot() []domain.PriceSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.PriceSample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.start+i)%b.capacity]
	}
	return out
}

// Tail returns a copy of at most n most recent samples, oldest first.
func (b *Buffer) Tail(n int) []domain.PriceSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]domain.PriceSample, n)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.samples[(b.start+offset+i)%b.capacity]
	}
	return out
}

// Prices returns the buffered prices, oldest first.
func (b *Buffer) Prices() []float64 {
	return domain.Prices(b.Snapshot())
}

// Last returns the newest sample.
func (b *Buffer) Last() (domain.PriceSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return domain.PriceSample{}, false
	}
	return b.samples[(b.start+b.size-1)%b.capacity], true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return b.capacity
}
