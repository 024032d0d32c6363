package frameq

import (
	"sync"

	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/internal/arena"
	"github.com/gogpu/frameq/internal/list"
)

type grave struct {
	resource backend.Resource
	counter  uint64
	next     *grave
}

func (g *grave) NextLink() **grave { return &g.next }

type graveList = list.List[grave, *grave]

// Graveyard defers resource release until a queue's counter reaches the
// value recorded with the resource.
//
// Graveyard is safe for concurrent use.
type Graveyard struct {
	mu    sync.Mutex
	free  graveList
	full  graveList
	queue *Queue
	slab  *arena.Slab[grave]
}

// NewGraveyard returns a graveyard tied to q's counter.
func NewGraveyard(q *Queue, slabChunk int) *Graveyard {
	return &Graveyard{
		queue: q,
		slab:  arena.NewSlab[grave](slabChunk),
	}
}

// AddResource buries res until the queue's counter reaches counter.
func (g *Graveyard) AddResource(counter uint64, res backend.Resource) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gr := g.free.PopFront()
	if gr == nil {
		gr = g.slab.New()
	}
	gr.resource = res
	gr.counter = counter
	g.full.PushBack(gr)
}

// Cleanup releases every buried resource whose counter has been reached and
// returns how many were released. Resources still in use stay buried in
// their original order.
func (g *Graveyard) Cleanup() int {
	completed := g.queue.Completed()

	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	g.full.Sweep(
		func(gr *grave) bool { return gr.counter <= completed },
		func(gr *grave) {
			gr.resource.Release()
			gr.resource = nil
			gr.counter = 0
			g.free.PushBack(gr)
			n++
		})
	return n
}

// Len returns the number of buried resources.
func (g *Graveyard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.full.Len()
}

// Queue returns the queue whose counter gates release.
func (g *Graveyard) Queue() *Queue { return g.queue }
