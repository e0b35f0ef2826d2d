package command

import "container/list"

// Queue is one of the manager's four intrusive queues (local-ready,
// remote-ready, send-ready, receive-ready — spec §3). A Transfer is a
// member of at most one Queue at a time; pushing it onto a new Queue first
// removes it from whatever queue currently owns it, which is the sole
// ownership-transfer point invariant I4 relies on.
type Queue struct {
	name string
	l    *list.List
	pos  map[*Transfer]*list.Element
}

// NewQueue creates an empty, named queue. The name is used only for
// logging.
func NewQueue(name string) *Queue {
	return &Queue{name: name, l: list.New(), pos: make(map[*Transfer]*list.Element)}
}

func (q *Queue) Name() string { return q.name }

// PushBack enqueues t, detaching it from any queue that currently owns it.
func (q *Queue) PushBack(t *Transfer) {
	if t.queue != nil {
		t.queue.Remove(t)
	}
	q.pos[t] = q.l.PushBack(t)
	t.queue = q
}

// PopFront removes and returns the head of the queue, or nil if empty.
func (q *Queue) PopFront() *Transfer {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	t := e.Value.(*Transfer)
	q.l.Remove(e)
	delete(q.pos, t)
	t.queue = nil
	return t
}

// Front returns the head of the queue without removing it, or nil if empty.
func (q *Queue) Front() *Transfer {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Transfer)
}

// Remove detaches t from the queue if present; a no-op otherwise.
func (q *Queue) Remove(t *Transfer) {
	e, ok := q.pos[t]
	if !ok {
		return
	}
	q.l.Remove(e)
	delete(q.pos, t)
	if t.queue == q {
		t.queue = nil
	}
}

func (q *Queue) Len() int { return q.l.Len() }

func (q *Queue) Empty() bool { return q.l.Len() == 0 }

// Each calls fn for every Transfer currently on the queue, in order. fn
// must not mutate the queue.
func (q *Queue) Each(fn func(*Transfer)) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Transfer))
	}
}
