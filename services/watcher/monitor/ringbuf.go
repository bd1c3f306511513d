// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

// ringBuffer is a fixed-size circular buffer.
//
// Provides O(1) push and bounded memory usage. When full, the oldest
// item is overwritten. NOT safe for concurrent use; callers
// synchronize.
type ringBuffer[T any] struct {
	data  []T
	head  int // Next write position
	tail  int // First element position
	count int
	full  bool
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 20
	}
	return &ringBuffer[T]{data: make([]T, capacity)}
}

// Push adds an item, overwriting the oldest when full.
func (r *ringBuffer[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)

	if r.full {
		r.tail = (r.tail + 1) % len(r.data)
	} else {
		r.count++
		if r.count == len(r.data) {
			r.full = true
		}
	}
}

// Len returns the current number of elements.
func (r *ringBuffer[T]) Len() int { return r.count }

// Slice returns all items from oldest to newest as a copy.
func (r *ringBuffer[T]) Slice() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.data[(r.tail+i)%len(r.data)])
	}
	return out
}

// Last returns up to n newest items, oldest first.
func (r *ringBuffer[T]) Last(n int) []T {
	all := r.Slice()
	if len(all) > n {
		return all[len(all)-n:]
	}
	return all
}
