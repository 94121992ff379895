package strategy

import "github.com/wehubfusion/terser/pkg/minification"

// claimQueue hands out every item exactly once to whichever worker polls first.
// It is filled and closed before any worker starts.
type claimQueue struct {
	items chan minification.Minification
}

func newClaimQueue(items []minification.Minification) *claimQueue {
	q := &claimQueue{items: make(chan minification.Minification, len(items))}
	for _, item := range items {
		q.items <- item
	}
	close(q.items)
	return q
}

// poll never blocks; ok is false once the queue is drained.
func (q *claimQueue) poll() (item minification.Minification, ok bool) {
	item, ok = <-q.items
	return item, ok
}

func (q *claimQueue) len() int {
	return len(q.items)
}
