// Package hierarchy turns flat, parent-referencing order rows into the
// contract tree shown by the order views: an original contract with its
// amendments nested beneath it.
package hierarchy

import (
	"encoding/json"
	"fmt"

	"erpcore/pkg/domain"
)

// Node is an order row with its nested amendments. Children is nil when the
// node has none.
type Node struct {
	Order    domain.Record
	Children []*Node

	synthetic bool
}

// ID returns the order id.
func (n *Node) ID() string { return n.Order.ID() }

// Synthetic reports whether n is the display copy of its parent inserted at
// children index 0.
func (n *Node) Synthetic() bool { return n.synthetic }

// MarshalJSON renders the order fields with a "children" array when present.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Order)+1)
	for k, v := range n.Order {
		out[k] = v
	}
	if n.Children != nil {
		out["children"] = n.Children
	}
	return json.Marshal(out)
}

// Materialize builds the order forest. Roots keep the input order of their
// first occurrence and children keep input order. Every root with at least
// one child receives a childless copy of itself as its first child. Rows
// whose parent is missing, is themselves, or lies on a reference cycle are
// promoted to roots; duplicate ids keep their first occurrence.
func Materialize(orders []domain.Record) []*Node {
	index := make(map[string]*Node, len(orders))
	nodes := make([]*Node, 0, len(orders))
	for _, o := range orders {
		id := o.ID()
		if _, dup := index[id]; dup {
			continue
		}
		n := &Node{Order: o.Clone()}
		index[id] = n
		nodes = append(nodes, n)
	}

	parentOf := make(map[*Node]*Node, len(nodes))
	var roots []*Node
	for _, n := range nodes {
		pid := domain.IDOf(n.Order[domain.FieldParentID])
		parent, ok := index[pid]
		if pid == "" || !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
		parentOf[n] = parent
	}

	reached := make(map[*Node]bool, len(nodes))
	var mark func(*Node)
	mark = func(n *Node) {
		if reached[n] {
			return
		}
		reached[n] = true
		for _, c := range n.Children {
			mark(c)
		}
	}
	for _, r := range roots {
		mark(r)
	}
	for _, n := range nodes {
		if reached[n] {
			continue
		}
		detach(parentOf[n], n)
		delete(parentOf, n)
		roots = append(roots, n)
		mark(n)
	}

	for _, r := range roots {
		if len(r.Children) == 0 {
			continue
		}
		self := &Node{Order: r.Order.Clone(), synthetic: true}
		r.Children = append([]*Node{self}, r.Children...)
	}
	for _, r := range roots {
		prune(r)
	}
	return roots
}

func detach(parent, child *Node) {
	if parent == nil {
		return
	}
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

func prune(n *Node) {
	if len(n.Children) == 0 {
		n.Children = nil
		return
	}
	for _, c := range n.Children {
		prune(c)
	}
}

// realChildren skips the synthetic self copy.
func realChildren(n *Node) []*Node {
	if len(n.Children) > 0 && n.Children[0].synthetic {
		return n.Children[1:]
	}
	return n.Children
}

// Flatten serializes a forest back to rows in pre-order, dropping synthetic
// copies. Parent references are preserved as stored.
func Flatten(roots []*Node) []domain.Record {
	var out []domain.Record
	var walk func(*Node)
	walk = func(n *Node) {
		out = append(out, n.Order.Clone())
		for _, c := range realChildren(n) {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// TotalAmount sums the node's amount and the totals of its real children.
func TotalAmount(n *Node) float64 {
	if n == nil {
		return 0
	}
	total := n.Order.Float(domain.FieldAmount)
	for _, c := range realChildren(n) {
		total += TotalAmount(c)
	}
	return total
}

// Amendments counts the node's real children.
func Amendments(n *Node) int {
	return len(realChildren(n))
}

// TypeLabel distinguishes a standalone contract from one carrying
// amendments.
func TypeLabel(n *Node) string {
	if k := Amendments(n); k > 0 {
		return fmt.Sprintf("원계약 + 변경 %d건", k)
	}
	return "단일 계약"
}

// SourcedAttachment is an attachment tagged with the order it belongs to.
type SourcedAttachment struct {
	domain.Attachment
	OrderID      string `json:"order_id"`
	ContractName string `json:"contract_name"`
}

// CollectAttachments gathers the attachments of n and all its real
// descendants, self first.
func CollectAttachments(n *Node) []SourcedAttachment {
	var out []SourcedAttachment
	var walk func(*Node)
	walk = func(node *Node) {
		for _, a := range domain.AttachmentsOf(node.Order) {
			out = append(out, SourcedAttachment{
				Attachment:   a,
				OrderID:      node.ID(),
				ContractName: node.Order.Text(domain.FieldContractName),
			})
		}
		for _, c := range realChildren(node) {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// Summary is the per-root view returned by the order tree endpoint.
type Summary struct {
	Node        *Node   `json:"node"`
	TypeLabel   string  `json:"type_label"`
	TotalAmount float64 `json:"total_amount"`
	Amendments  int     `json:"amendments"`
}

// Summarize materializes orders and annotates each root.
func Summarize(orders []domain.Record) []Summary {
	roots := Materialize(orders)
	out := make([]Summary, len(roots))
	for i, r := range roots {
		out[i] = Summary{Node: r, TypeLabel: TypeLabel(r), TotalAmount: TotalAmount(r), Amendments: Amendments(r)}
	}
	return out
}
