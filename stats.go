package frameq

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/gogpu/frameq/backend"
)

// QueueStats is a snapshot of one execution queue.
type QueueStats struct {
	Type         backend.QueueType
	Free         int
	Running      int
	Allocated    int
	Reclaimed    uint64
	LastSignaled uint64
	Completed    uint64
}

// Stats is a snapshot of a Context. Fields are read one at a time, so a
// snapshot taken while producers run is not atomic as a whole.
type Stats struct {
	Frames           uint64
	Queues           [backend.QueueTypeCount]QueueStats
	PendingGraves    int
	ScratchUsed      int
	ScratchCommitted int
	ReclaimPasses    uint64
	Stalls           uint64
}

// Stats returns a snapshot of the Context.
func (c *Context) Stats() Stats {
	s := Stats{
		Frames:        c.frames.Load(),
		ReclaimPasses: c.reclaimer.passes.Load(),
		Stalls:        c.reclaimer.stalls.Load(),
	}
	for i, q := range c.queues {
		s.Queues[i] = QueueStats{
			Type:         q.typ,
			Free:         q.FreeCount(),
			Running:      q.RunningCount(),
			Allocated:    q.Allocated(),
			Reclaimed:    q.Reclaimed(),
			LastSignaled: q.LastSignaled(),
		}
		if !c.closed.Load() {
			s.Queues[i].Completed = q.Completed()
		}
	}
	for _, g := range c.graveyards {
		s.PendingGraves += g.Len()
	}
	s.PendingGraves += c.copyGraveyard.Len() + c.computeGraveyard.Len()
	if !c.closed.Load() {
		slot := c.scratch[c.FrameSlot()]
		s.ScratchUsed = slot.used()
		s.ScratchCommitted = slot.committed()
	}
	return s
}

// StatsJSON returns Stats encoded as a JSON object.
func (c *Context) StatsJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	c.Stats().write(&w)
	return w.Bytes(), w.Error()
}

func (s Stats) write(w *jwriter.Writer) {
	obj := w.Object()
	defer obj.End()

	obj.Name("Frames").Int(int(s.Frames))
	obj.Name("PendingGraves").Int(s.PendingGraves)
	obj.Name("ScratchUsed").Int(s.ScratchUsed)
	obj.Name("ScratchCommitted").Int(s.ScratchCommitted)
	obj.Name("ReclaimPasses").Int(int(s.ReclaimPasses))
	obj.Name("Stalls").Int(int(s.Stalls))

	arr := obj.Name("Queues").Array()
	defer arr.End()
	for i := range s.Queues {
		s.Queues[i].write(&arr)
	}
}

func (q *QueueStats) write(json *jwriter.ArrayState) {
	obj := json.Object()
	defer obj.End()

	obj.Name("Type").String(q.Type.String())
	obj.Name("Free").Int(q.Free)
	obj.Name("Running").Int(q.Running)
	obj.Name("Allocated").Int(q.Allocated)
	obj.Name("Reclaimed").Int(int(q.Reclaimed))
	obj.Name("LastSignaled").Int(int(q.LastSignaled))
	obj.Name("Completed").Int(int(q.Completed))
}
