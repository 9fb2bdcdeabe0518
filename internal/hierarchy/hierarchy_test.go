package hierarchy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"erpcore/pkg/domain"
)

func order(id, parent string, amount float64) domain.Record {
	r := domain.Record{"id": id, "amount": amount, "contract_name": "계약 " + id}
	if parent != "" {
		r["parent_id"] = parent
	}
	return r
}

// shape renders a forest as "A[A B[..]]" for structural comparison.
func shape(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		s := n.ID()
		if n.Synthetic() {
			s += "*"
		}
		if n.Children != nil {
			s += "[" + strings.Join(shape(n.Children), " ") + "]"
		}
		out[i] = s
	}
	return out
}

func TestMaterializeScenarioA(t *testing.T) {
	roots := Materialize([]domain.Record{order("A", "", 100), order("B", "A", 50)})
	if diff := cmp.Diff([]string{"A[A* B]"}, shape(roots)); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	self := roots[0].Children[0]
	if self.Children != nil || self.Order.Float("amount") != 100 {
		t.Fatalf("synthetic copy = %+v", self)
	}
	if got := TotalAmount(roots[0]); got != 150 {
		t.Fatalf("total = %v", got)
	}
	if got := TypeLabel(roots[0]); got != "원계약 + 변경 1건" {
		t.Fatalf("label = %q", got)
	}
}

func TestMaterializeOrderingAndNesting(t *testing.T) {
	in := []domain.Record{
		order("C2", "C", 5),
		order("A", "", 1),
		order("C", "", 2),
		order("A1", "A", 3),
		order("A1x", "A1", 4),
		order("A2", "A", 6),
	}
	roots := Materialize(in)
	want := []string{"A[A* A1[A1x] A2]", "C[C* C2]"}
	if diff := cmp.Diff(want, shape(roots)); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	if got := TotalAmount(roots[0]); got != 14 {
		t.Fatalf("nested total = %v", got)
	}
	if TypeLabel(roots[0].Children[2]) != "단일 계약" {
		t.Fatalf("leaf label = %q", TypeLabel(roots[0].Children[2]))
	}
}

func TestMaterializeFlattenRoundTrip(t *testing.T) {
	in := []domain.Record{
		order("B1", "B", 1),
		order("A", "", 1),
		order("B", "", 1),
		order("A1", "A", 1),
		order("Z", "missing", 1),
		order("A2", "A", 1),
	}
	first := Materialize(in)
	second := Materialize(Flatten(first))
	if diff := cmp.Diff(shape(first), shape(second)); diff != "" {
		t.Fatalf("re-materialize changed grouping (-first +second):\n%s", diff)
	}
	for _, r := range Flatten(first) {
		if r.ID() == "A" && r.Has("children") {
			t.Fatalf("flatten leaked children")
		}
	}
	if n := len(Flatten(first)); n != len(in) {
		t.Fatalf("flatten emitted %d rows, want %d", n, len(in))
	}
}

func TestMaterializeOrphansSelfAndCycles(t *testing.T) {
	in := []domain.Record{
		order("O", "ghost", 1),
		order("S", "S", 1),
		order("X", "Y", 1),
		order("Y", "X", 1),
		order("O", "", 99),
	}
	roots := Materialize(in)
	want := []string{"O", "S", "X[X* Y]"}
	if diff := cmp.Diff(want, shape(roots)); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	if roots[0].Order.Float("amount") != 1 {
		t.Fatalf("duplicate id must keep first occurrence")
	}
}

func TestMaterializeDoesNotAliasInput(t *testing.T) {
	in := []domain.Record{order("A", "", 1), order("B", "A", 1)}
	roots := Materialize(in)
	roots[0].Order["amount"] = 999.0
	if in[0]["amount"] != 1.0 {
		t.Fatalf("input mutated")
	}
	if roots[0].Children[0].Order.Float("amount") != 1 {
		t.Fatalf("synthetic copy aliases root")
	}
}

func TestCollectAttachments(t *testing.T) {
	a := order("A", "", 1)
	a["attachments"] = []domain.Attachment{{Key: "a1", Name: "원계약서.pdf"}}
	b := order("B", "A", 1)
	b["attachments"] = []any{map[string]any{"key": "b1", "name": "변경계약서.pdf"}}
	roots := Materialize([]domain.Record{a, b})
	got := CollectAttachments(roots[0])
	var keys []string
	for _, s := range got {
		keys = append(keys, s.OrderID+"/"+s.Key)
	}
	if diff := cmp.Diff([]string{"A/a1", "B/b1"}, keys); diff != "" {
		t.Fatalf("attachments (-want +got):\n%s", diff)
	}
	if got[1].ContractName != "계약 B" {
		t.Fatalf("contract name = %q", got[1].ContractName)
	}
}

func TestNodeJSON(t *testing.T) {
	roots := Materialize([]domain.Record{order("A", "", 1), order("B", "A", 2)})
	raw, err := json.Marshal(roots[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		ID       string           `json:"id"`
		Children []map[string]any `json:"children"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "A" || len(decoded.Children) != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
	if _, ok := decoded.Children[0]["children"]; ok {
		t.Fatalf("synthetic copy must omit children")
	}
	sums := Summarize([]domain.Record{order("A", "", 1), order("B", "A", 2)})
	if len(sums) != 1 || sums[0].TotalAmount != 3 || sums[0].Amendments != 1 {
		t.Fatalf("summary = %+v", sums)
	}
}
