package celledit

import "sync"

// CellRef addresses one cell by row key and field name.
type CellRef struct {
	Row   string `json:"row"`
	Field string `json:"field"`
}

// IsZero reports whether ref addresses nothing.
func (c CellRef) IsZero() bool { return c.Row == "" && c.Field == "" }

// Navigator is the registry of editable cells in display order. Rows are
// kept in registration order; each row lists its editable fields in column
// order. Tab and Shift+Tab move through this list.
type Navigator struct {
	mu    sync.RWMutex
	order []string
	rows  map[string][]string
}

// NewNavigator returns an empty registry.
func NewNavigator() *Navigator {
	return &Navigator{rows: make(map[string][]string)}
}

// Register records the editable fields of a row. Re-registering a row
// replaces its fields and keeps its position.
func (n *Navigator) Register(row string, fields []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rows[row]; !ok {
		n.order = append(n.order, row)
	}
	n.rows[row] = append([]string(nil), fields...)
}

// Unregister drops a row, e.g. when it is deleted or scrolled out.
func (n *Navigator) Unregister(row string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rows[row]; !ok {
		return
	}
	delete(n.rows, row)
	for i, r := range n.order {
		if r == row {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Reset clears the registry.
func (n *Navigator) Reset() {
	n.mu.Lock()
	n.order = nil
	n.rows = make(map[string][]string)
	n.mu.Unlock()
}

// Next returns the editable cell after from, wrapping into the following
// row. ok is false at the end of the table or when from is unknown.
func (n *Navigator) Next(from CellRef) (CellRef, bool) {
	return n.step(from, 1)
}

// Prev returns the editable cell before from.
func (n *Navigator) Prev(from CellRef) (CellRef, bool) {
	return n.step(from, -1)
}

func (n *Navigator) step(from CellRef, dir int) (CellRef, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ri := -1
	for i, r := range n.order {
		if r == from.Row {
			ri = i
			break
		}
	}
	if ri < 0 {
		return CellRef{}, false
	}
	fi := indexOf(n.rows[from.Row], from.Field)
	if fi < 0 {
		return CellRef{}, false
	}
	fi += dir
	for ri >= 0 && ri < len(n.order) {
		fields := n.rows[n.order[ri]]
		if fi >= 0 && fi < len(fields) {
			return CellRef{Row: n.order[ri], Field: fields[fi]}, true
		}
		ri += dir
		if ri < 0 || ri >= len(n.order) {
			break
		}
		if dir > 0 {
			fi = 0
		} else {
			fi = len(n.rows[n.order[ri]]) - 1
		}
	}
	return CellRef{}, false
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
