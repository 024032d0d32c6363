package frameq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/backend/soft"
)

func TestGraveyardReleasesInOrderOfCompletion(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueRender)
	g := NewGraveyard(q, 2)
	native := q.native.(*soft.Queue)

	for range 6 {
		q.Signal()
	}

	var order []string
	res := func(name string) backend.Resource {
		return backend.ResourceFunc(func() { order = append(order, name) })
	}
	g.AddResource(5, res("e"))
	g.AddResource(2, res("b"))
	g.AddResource(6, res("f"))
	g.AddResource(1, res("a"))

	assert.Zero(t, g.Cleanup())
	assert.Equal(t, 4, g.Len())

	native.RetireTo(2)
	assert.Equal(t, 2, g.Cleanup())
	assert.Equal(t, []string{"b", "a"}, order)

	native.RetireTo(5)
	assert.Equal(t, 1, g.Cleanup())
	assert.Equal(t, []string{"b", "a", "e"}, order)
	assert.Equal(t, 1, g.Len())

	native.RetireTo(6)
	assert.Equal(t, 1, g.Cleanup())
	assert.Zero(t, g.Len())
	assert.Zero(t, g.Cleanup())
	assert.Same(t, q, g.Queue())
}

func TestGraveyardRecyclesGraves(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueCopy)
	g := NewGraveyard(q, 4)

	for round := range 10 {
		res := soft.NewResource("r")
		g.AddResource(0, res)
		assert.Equal(t, 1, g.Cleanup(), "round %d", round)
		assert.Equal(t, 1, res.Released())
	}
	assert.Equal(t, 1, g.slab.Len())
}

func TestGraveyardConcurrentAdd(t *testing.T) {
	q := newTestQueue(t, soft.New(), backend.QueueCompute)
	g := NewGraveyard(q, 8)
	v := q.Signal()

	const goroutines, each = 8, 50
	resources := make([]*soft.Resource, goroutines*each)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range each {
				r := soft.NewResource("r")
				resources[i*each+j] = r
				g.AddResource(v, r)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, goroutines*each, g.Len())

	q.native.(*soft.Queue).RetireTo(v)
	assert.Equal(t, goroutines*each, g.Cleanup())
	for _, r := range resources {
		assert.Equal(t, 1, r.Released())
	}
}
