package sched

import (
	"container/heap"

	"go-forge/graph"
)

// buildEntry is one runnable build in the priority queue. seq breaks
// priority ties FIFO.
type buildEntry struct {
	job *graph.Job
	seq int
}

type buildHeap []buildEntry

func (h buildHeap) Len() int { return len(h) }

func (h buildHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h buildHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *buildHeap) Push(x any) { *h = append(*h, x.(buildEntry)) }

func (h *buildHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// buildQueue is a priority queue of runnable build jobs: higher
// priority first, FIFO among equals.
type buildQueue struct {
	heap buildHeap
	seq  int
}

func (q *buildQueue) Len() int {
	return q.heap.Len()
}

func (q *buildQueue) Push(job *graph.Job) {
	heap.Push(&q.heap, buildEntry{job: job, seq: q.seq})
	q.seq++
}

func (q *buildQueue) Pop() *graph.Job {
	return heap.Pop(&q.heap).(buildEntry).job
}

// admission is one pending download: a download job needing url
// fetched. A job with a detached signature produces two admissions.
type admission struct {
	job *graph.Job
	url string
	seq int
}

// admissionList keeps admissions sorted by job priority (descending),
// FIFO among equals. The list is scanned in order and entries may be
// removed from the middle when a host slot frees up out of order.
type admissionList struct {
	entries []admission
	seq     int
}

func (l *admissionList) Len() int {
	return len(l.entries)
}

func (l *admissionList) Add(job *graph.Job, url string) {
	entry := admission{job: job, url: url, seq: l.seq}
	l.seq++

	pos := len(l.entries)
	for i, other := range l.entries {
		if job.Priority > other.job.Priority {
			pos = i
			break
		}
	}
	l.entries = append(l.entries, admission{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = entry
}

func (l *admissionList) At(i int) admission {
	return l.entries[i]
}

func (l *admissionList) Remove(i int) {
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}
