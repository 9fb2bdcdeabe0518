package celledit

import (
	"sort"

	"erpcore/pkg/domain"
)

// CanonicalizeRecord validates column names against spec and converts each
// value to its stored form. Read-only columns are rejected, except that a
// new row may name its parent. On create every required column must be
// present.
func CanonicalizeRecord(spec domain.TableSpec, in domain.Record, create bool) (domain.Record, error) {
	if err := spec.ValidateFields(in); err != nil {
		return nil, err
	}
	out := make(domain.Record, len(in))
	var readOnly []string
	for name, v := range in {
		field, ok := spec.Field(name)
		if !ok {
			out[name] = v
			continue
		}
		if !field.Editable() {
			readOnly = append(readOnly, name)
			continue
		}
		c, err := Canonicalize(field, v)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	sort.Strings(readOnly)
	if len(readOnly) > 0 && !(create && onlyParent(readOnly)) {
		return nil, &domain.ValidationError{Fields: readOnly, Message: "read-only field"}
	}
	if create {
		for _, name := range readOnly {
			out[name] = in[name]
		}
		var missing []string
		for _, name := range spec.RequiredFields() {
			if v, ok := out[name]; !ok || v == nil {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, &domain.ValidationError{Fields: missing, Message: "required field missing"}
		}
	}
	return out, nil
}

// onlyParent allows amendments to name their original contract on creation.
func onlyParent(fields []string) bool {
	return len(fields) == 1 && fields[0] == domain.FieldParentID
}
