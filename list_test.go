package jobtree

import (
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func collect(l *nodeList) []*node {
	var out []*node
	l.forEach(func(n *node) { out = append(out, n) })
	return out
}

func TestListAddLastOrder(t *testing.T) {
	l := newNodeList()
	a := newNode(nil, false, nil)
	b := newNode(nil, false, nil)
	c := newNode(nil, false, nil)
	l.addLast(a)
	l.addLast(b)
	l.addLast(c)

	got := collect(l)
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Errorf("forEach order = %v, want [a b c]", got)
	}
}

func TestListRemove(t *testing.T) {
	l := newNodeList()
	a := newNode(nil, false, nil)
	b := newNode(nil, false, nil)
	c := newNode(nil, false, nil)
	l.addLast(a)
	l.addLast(b)
	l.addLast(c)

	if !b.remove() {
		t.Fatal("first remove should succeed")
	}
	if b.remove() {
		t.Error("second remove should report already removed")
	}
	if got := collect(l); len(got) != 2 || got[0] != a || got[1] != c {
		t.Errorf("after logical removal forEach = %v, want [a c]", got)
	}

	l.unlink(b)
	if got := collect(l); len(got) != 2 || got[0] != a || got[1] != c {
		t.Errorf("after unlink forEach = %v, want [a c]", got)
	}
}

func TestListAppendAfterRemovedTail(t *testing.T) {
	l := newNodeList()
	a := newNode(nil, false, nil)
	b := newNode(nil, false, nil)
	l.addLast(a)
	l.addLast(b)

	// Mark the tail removed without physically unlinking; the next append
	// must shortcut past it.
	if !b.remove() {
		t.Fatal("remove failed")
	}
	c := newNode(nil, false, nil)
	l.addLast(c)

	if got := collect(l); len(got) != 2 || got[0] != a || got[1] != c {
		t.Errorf("forEach = %v, want [a c]", got)
	}
}

func TestListAppendAfterAllRemoved(t *testing.T) {
	l := newNodeList()
	a := newNode(nil, false, nil)
	b := newNode(nil, false, nil)
	l.addLast(a)
	l.addLast(b)
	a.remove()
	b.remove()

	c := newNode(nil, false, nil)
	l.addLast(c)
	if got := collect(l); len(got) != 1 || got[0] != c {
		t.Errorf("forEach = %v, want [c]", got)
	}
}

func TestPromoteList(t *testing.T) {
	n := newNode(nil, false, nil)
	if n.ownerList() != nil {
		t.Fatal("fresh node should not belong to a list")
	}

	l := n.promoteList()
	if l == nil {
		t.Fatal("promoteList returned nil")
	}
	if n.ownerList() != l {
		t.Error("node should resolve to the promoted list")
	}
	if l2 := n.promoteList(); l2 != l {
		t.Error("a second promotion must resolve to the same list")
	}
	if got := collect(l); len(got) != 1 || got[0] != n {
		t.Errorf("promoted list contents = %v, want [n]", got)
	}

	// The promoted list keeps working as a normal list.
	m := newNode(nil, false, nil)
	l.addLast(m)
	if got := collect(l); len(got) != 2 || got[0] != n || got[1] != m {
		t.Errorf("forEach = %v, want [n m]", got)
	}
}

func TestPromoteListConcurrent(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		n := newNode(nil, false, nil)
		results := make([]*nodeList, 4)
		var wg sync.WaitGroup
		for i := 0; i < len(results); i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = n.promoteList()
			}(i)
		}
		wg.Wait()
		for i := 1; i < len(results); i++ {
			if results[i] != results[0] {
				t.Fatalf("promoters disagree on the winning list: %p vs %p", results[0], results[i])
			}
		}
	}
}

func TestListConcurrentAddLast(t *testing.T) {
	l := newNodeList()
	const workers = 8
	const perWorker = 100

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				l.addLast(newNode(nil, false, nil))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := len(collect(l)); got != workers*perWorker {
		t.Errorf("list contains %d nodes, want %d", got, workers*perWorker)
	}
}

func TestListConcurrentAddRemove(t *testing.T) {
	l := newNodeList()
	const workers = 8
	const perWorker = 50

	kept := make([][]*node, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				n := newNode(nil, false, nil)
				l.addLast(n)
				if i%2 == 0 {
					n.remove()
					l.unlink(n)
				} else {
					kept[w] = append(kept[w], n)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	want := make(map[*node]bool)
	for _, ns := range kept {
		for _, n := range ns {
			want[n] = true
		}
	}
	got := collect(l)
	if len(got) != len(want) {
		t.Fatalf("list contains %d nodes, want %d", len(got), len(want))
	}
	for _, n := range got {
		if !want[n] {
			t.Error("list contains a node that should have been removed")
		}
	}
}
