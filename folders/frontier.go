package folders

// frame is one folder waiting to have its children listed.
type frame struct {
	folderID string
	depth    int
	path     []string
}

// frontier is the FIFO work list of a breadth-first traversal. It is owned
// by a single traversal and needs no locking.
type frontier struct {
	order []frame
	head  int
}

func newFrontier(root frame) *frontier {
	return &frontier{order: []frame{root}}
}

// Push appends f to the tail.
func (q *frontier) Push(f frame) {
	q.order = append(q.order, f)
}

// Pop removes and returns the head. Returns false when empty.
func (q *frontier) Pop() (frame, bool) {
	if q.head >= len(q.order) {
		return frame{}, false
	}
	f := q.order[q.head]
	q.order[q.head] = frame{}
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 > len(q.order) {
		q.order = append([]frame(nil), q.order[q.head:]...)
		q.head = 0
	}
	return f, true
}

// Len returns the number of queued frames.
func (q *frontier) Len() int {
	return len(q.order) - q.head
}
