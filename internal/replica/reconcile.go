package replica

import (
	"slices"
	"sync"
)

// ListSurface renders the ranked list. Entries keep their identity across
// passes; a rank change is a Move, never a Remove plus Create.
type ListSurface interface {
	Create(row Row, index int)
	Update(row Row)
	Move(uid int64, from, to int)
	Remove(uid int64)
}

// Diff records what one reconciliation pass did.
type Diff struct {
	Created []int64
	Updated []int64
	Moved   []int64
	Removed []int64
}

func (d Diff) Empty() bool {
	return len(d.Created)+len(d.Updated)+len(d.Moved)+len(d.Removed) == 0
}

type Reconciler struct {
	mu      sync.Mutex
	surface ListSurface
	order   []int64
}

func NewReconciler(surface ListSurface) *Reconciler {
	return &Reconciler{surface: surface}
}

// Reconcile brings the surface from the previously rendered order to rows.
// Passes never overlap.
func (r *Reconciler) Reconcile(rows []Row) Diff {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Diff
	prevIndex := make(map[int64]int, len(r.order))
	for i, uid := range r.order {
		prevIndex[uid] = i
	}
	next := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		next[row.UID] = struct{}{}
	}

	for _, uid := range r.order {
		if _, ok := next[uid]; !ok {
			r.surface.Remove(uid)
			d.Removed = append(d.Removed, uid)
		}
	}

	order := make([]int64, 0, len(rows))
	for i, row := range rows {
		order = append(order, row.UID)
		from, seen := prevIndex[row.UID]
		if !seen {
			r.surface.Create(row, i)
			d.Created = append(d.Created, row.UID)
			continue
		}
		r.surface.Update(row)
		d.Updated = append(d.Updated, row.UID)
		if from != i {
			r.surface.Move(row.UID, from, i)
			d.Moved = append(d.Moved, row.UID)
		}
	}
	r.order = order
	return d
}

// Order is the order of the last rendered pass.
func (r *Reconciler) Order() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range r.order {
		r.surface.Remove(uid)
	}
	r.order = nil
}
