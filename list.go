// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package jobtree

// nextLink is the value of a node's next pointer. Logical removal is encoded
// here rather than as a separate flag so that removal and linkage cannot be
// observed out of order: marking a node removed replaces its next pointer, so
// any append that raced with the removal fails its CAS and retries.
type nextLink struct {
	n       *node
	removed bool
}

// nodeList is an intrusive, lock-free, circular doubly-linked list of
// listener nodes. The sentinel is embedded; an empty list is a sentinel
// ringed to itself.
//
// Properties relied upon by the job state machine:
//   - Append is lock-free and fails (retries) if the target link was
//     concurrently marked removed.
//   - Removal is logical-first: a removed node's own next pointer keeps
//     pointing into the ring, so forward traversal from any node that was
//     ever linked still terminates at the sentinel.
//   - prev pointers are best-effort hints only; no traversal reads them.
type nodeList struct {
	head node // sentinel; head.asList is the only non-nil asList in the ring
}

func newNodeList() *nodeList {
	l := &nodeList{}
	l.head.asList = l
	l.head.next.Store(&nextLink{n: &l.head})
	l.head.prev.Store(&l.head)
	return l
}

// addLast appends n immediately before the sentinel.
func (l *nodeList) addLast(n *node) {
	s := &l.head
	for {
		t := l.tail()
		r := t.next.Load()
		if r.removed || r.n != s {
			continue
		}
		n.prev.Store(t)
		n.next.Store(&nextLink{n: s})
		if t.next.CompareAndSwap(r, &nextLink{n: n}) {
			s.prev.Store(n)
			return
		}
	}
}

// tail returns the last alive node (possibly the sentinel itself), after
// physically shortcutting any trailing run of removed nodes. Appends never
// land after a removed node (their CAS fails on the marked link), so the
// shortcut can only skip removed nodes.
func (l *nodeList) tail() *node {
	s := &l.head
	for {
		p := s
		cur := s.next.Load().n
		for cur != s {
			if !cur.isRemoved() {
				p = cur
			}
			cur = cur.next.Load().n
		}
		r := p.next.Load()
		if r.n == s {
			return p
		}
		p.next.CompareAndSwap(r, &nextLink{n: s})
	}
}

// forEach invokes fn for every node that is not logically removed at the
// moment it is visited. Concurrent appends may or may not be observed.
func (l *nodeList) forEach(fn func(*node)) {
	s := &l.head
	cur := s.next.Load().n
	for cur != s {
		if !cur.isRemoved() {
			fn(cur)
		}
		cur = cur.next.Load().n
	}
}

// firstIncompleteChild scans from the head for the first attached child job
// that has not yet reached a terminal state. Restarting from the head (rather
// than resuming after a remembered node) makes the scan immune to concurrent
// removal of the node it would have resumed from; terminal children are
// skipped, so the scan converges.
func (l *nodeList) firstIncompleteChild() *node {
	s := &l.head
	cur := s.next.Load().n
	for cur != s {
		if !cur.isRemoved() && cur.child != nil && !cur.child.IsCompleted() {
			return cur
		}
		cur = cur.next.Load().n
	}
	return nil
}

// unlink physically splices n out of the ring. Logical removal (the marked
// next pointer) must already have happened; traversal correctness never
// depends on this step, it only releases the node sooner.
func (l *nodeList) unlink(n *node) {
	s := &l.head
	p := s
	for {
		r := p.next.Load()
		if r.n == n {
			if !r.removed {
				next := n.next.Load().n
				if p.next.CompareAndSwap(r, &nextLink{n: next}) {
					next.prev.Store(p)
				}
			}
			return
		}
		if r.n == s {
			return
		}
		p = r.n
	}
}

// remove marks n logically removed. Returns false if it was already removed.
// The marked link preserves n's forward pointer so concurrent traversals
// starting at n still reach the sentinel.
func (n *node) remove() bool {
	for {
		r := n.next.Load()
		if r.removed {
			return false
		}
		if n.next.CompareAndSwap(r, &nextLink{n: r.n, removed: true}) {
			return true
		}
	}
}

func (n *node) isRemoved() bool {
	return n.next.Load().removed
}

// ownerList walks n's ring looking for a sentinel. Returns nil if n is still
// ringed only to itself (no list has been joined yet).
func (n *node) ownerList() *nodeList {
	cur := n.next.Load().n
	for cur != n {
		if cur.asList != nil {
			return cur.asList
		}
		cur = cur.next.Load().n
	}
	return nil
}

// promoteList joins n into a ring with a freshly allocated sentinel, unless a
// concurrent promoter got there first, and returns the winning list. The
// sentinel's pointers are prepared before publication, so the ring is
// complete the instant the CAS on n's next pointer lands; n.prev is fixed up
// after, which is fine because prev pointers are only hints.
func (n *node) promoteList() *nodeList {
	if l := n.ownerList(); l != nil {
		return l
	}
	l := newNodeList()
	s := &l.head
	s.next.Store(&nextLink{n: n})
	s.prev.Store(n)
	r := n.next.Load()
	if r.n == n && !r.removed && n.next.CompareAndSwap(r, &nextLink{n: s}) {
		n.prev.Store(s)
		return l
	}
	return n.ownerList()
}
