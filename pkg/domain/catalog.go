package domain

import (
	"fmt"
	"sort"
)

// FieldKind selects the editor used for a column.
type FieldKind string

// Column editor kinds.
const (
	KindText           FieldKind = "text"
	KindNumber         FieldKind = "number"
	KindDate           FieldKind = "date"
	KindSelect         FieldKind = "select"
	KindSearchSelect   FieldKind = "search_select"
	KindNote           FieldKind = "note"
	KindBusinessNumber FieldKind = "business_number"
	KindReadOnly       FieldKind = "readonly"
)

// FieldSpec describes one column of a table.
type FieldSpec struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// Editable reports whether the column accepts inline edits.
func (f FieldSpec) Editable() bool { return f.Kind != KindReadOnly }

// TableSpec describes a table exposed through the engine.
type TableSpec struct {
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	Module      Module      `json:"module"`
	OrderBy     string      `json:"order_by"`
	Reorderable bool        `json:"reorderable,omitempty"`
	Fields      []FieldSpec `json:"fields"`
}

// Field looks up a column by name.
func (t TableSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields lists required column names in declaration order.
func (t TableSpec) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// UniqueFields lists columns with a uniqueness constraint.
func (t TableSpec) UniqueFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

// EditableFields lists inline-editable columns in display order; this is the
// per-row field order used for Tab navigation.
func (t TableSpec) EditableFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Editable() {
			out = append(out, f.Name)
		}
	}
	return out
}

// ValidateFields rejects column names the table does not declare. System
// columns are always accepted.
func (t TableSpec) ValidateFields(r Record) error {
	var unknown []string
	for name := range r {
		switch name {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		case FieldSortOrder:
			if t.Reorderable {
				continue
			}
		}
		if _, ok := t.Field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &ValidationError{Fields: unknown, Message: fmt.Sprintf("unknown field for %s", t.Name)}
}

// Table names of the built-in catalog.
const (
	TableOrders      = "orders"
	TableBillings    = "billings"
	TableReceivables = "receivables"
	TableEmployees   = "employees"
	TableCompanies   = "companies"
	TableBooks       = "books"
)

// Order columns used by the hierarchy materializer.
const (
	FieldParentID     = "parent_id"
	FieldAmount       = "amount"
	FieldContractName = "contract_name"
	FieldAttachments  = "attachments"
)

// FieldBusinessNumber is the company business registration number column.
const FieldBusinessNumber = "business_number"

var catalog = []TableSpec{
	{
		Name: TableOrders, Label: "수주", Module: ModuleSales, OrderBy: "-contract_date",
		Fields: []FieldSpec{
			{Name: FieldContractName, Label: "계약명", Kind: KindText, Required: true},
			{Name: "company_id", Label: "거래처", Kind: KindSearchSelect, Required: true},
			{Name: FieldParentID, Label: "원계약", Kind: KindReadOnly},
			{Name: FieldAmount, Label: "계약금액", Kind: KindNumber},
			{Name: "contract_date", Label: "계약일", Kind: KindDate},
			{Name: "status", Label: "상태", Kind: KindSelect, Options: []string{"진행", "완료", "보류"}},
			{Name: "note", Label: "비고", Kind: KindNote},
			{Name: FieldAttachments, Label: "첨부", Kind: KindReadOnly},
		},
	},
	{
		Name: TableBillings, Label: "청구", Module: ModuleBilling, OrderBy: "-billed_on",
		Fields: []FieldSpec{
			{Name: "order_id", Label: "수주", Kind: KindSearchSelect, Required: true},
			{Name: "billed_on", Label: "청구일", Kind: KindDate, Required: true},
			{Name: FieldAmount, Label: "청구금액", Kind: KindNumber, Required: true},
			{Name: "status", Label: "상태", Kind: KindSelect, Options: []string{"청구", "입금", "취소"}},
			{Name: "note", Label: "비고", Kind: KindNote},
		},
	},
	{
		Name: TableReceivables, Label: "미수금", Module: ModuleReceivables, OrderBy: "due_on",
		Fields: []FieldSpec{
			{Name: "billing_id", Label: "청구", Kind: KindSearchSelect, Required: true},
			{Name: "due_on", Label: "만기일", Kind: KindDate, Required: true},
			{Name: FieldAmount, Label: "미수금액", Kind: KindNumber, Required: true},
			{Name: "collected", Label: "회수금액", Kind: KindNumber},
			{Name: "note", Label: "비고", Kind: KindNote},
		},
	},
	{
		Name: TableEmployees, Label: "직원", Module: ModuleAdmin, OrderBy: FieldSortOrder, Reorderable: true,
		Fields: []FieldSpec{
			{Name: "name", Label: "이름", Kind: KindText, Required: true},
			{Name: "department", Label: "부서", Kind: KindSelect, Options: []string{"경영지원", "영업", "개발", "디자인"}},
			{Name: "position", Label: "직급", Kind: KindText},
			{Name: "email", Label: "이메일", Kind: KindText, Unique: true},
			{Name: "joined_on", Label: "입사일", Kind: KindDate},
		},
	},
	{
		Name: TableCompanies, Label: "거래처", Module: ModuleAdmin, OrderBy: "name",
		Fields: []FieldSpec{
			{Name: "name", Label: "상호", Kind: KindText, Required: true},
			{Name: FieldBusinessNumber, Label: "사업자등록번호", Kind: KindBusinessNumber, Required: true, Unique: true},
			{Name: "representative", Label: "대표자", Kind: KindText},
			{Name: "phone", Label: "연락처", Kind: KindText},
			{Name: "address", Label: "주소", Kind: KindText},
			{Name: "note", Label: "비고", Kind: KindNote},
		},
	},
	{
		Name: TableBooks, Label: "독서모임", Module: ModuleClub, OrderBy: FieldSortOrder, Reorderable: true,
		Fields: []FieldSpec{
			{Name: "title", Label: "도서명", Kind: KindText, Required: true},
			{Name: "author", Label: "저자", Kind: KindText},
			{Name: "member", Label: "발제자", Kind: KindSearchSelect},
			{Name: "read_on", Label: "모임일", Kind: KindDate},
			{Name: "rating", Label: "평점", Kind: KindSelect, Options: []string{"1", "2", "3", "4", "5"}},
			{Name: "note", Label: "후기", Kind: KindNote},
		},
	},
}

// Catalog returns the built-in table specs.
func Catalog() []TableSpec {
	out := make([]TableSpec, len(catalog))
	copy(out, catalog)
	return out
}

// LookupTable resolves a built-in table spec by name.
func LookupTable(name string) (TableSpec, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
