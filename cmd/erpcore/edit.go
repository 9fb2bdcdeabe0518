package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"erpcore/internal/celledit"
	"erpcore/internal/table"
	"erpcore/pkg/domain"
)

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <table> <id> <field> <value>",
		Short: "Edit one cell the way the table view does",
		Long: `Open the table, enter edit mode on one cell, type the value and press Tab.

The value is canonicalized like typed input (dates, amounts, business numbers)
and saved through the optimistic update path. A failed save is rolled back.
The cell that Tab moves focus to is printed after a successful save.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := systemContext(cmd.Context())
			rt, err := opts.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := editCell(ctx, rt, args[0], args[1], args[2], args[3])
			if err != nil {
				return err
			}
			return printEdit(cmd.OutOrStdout(), opts.Format, res)
		},
	}
}

// editResult is what one cell edit did.
type editResult struct {
	Cell    celledit.CellRef `json:"cell"`
	Value   any              `json:"value"`
	Saved   bool             `json:"saved"`
	Next    celledit.CellRef `json:"next"`
	Notices []table.Notice   `json:"notices,omitempty"`
}

func editCell(ctx context.Context, rt *runtime, name, id, fieldName, value string) (editResult, error) {
	notices := &table.Recorder{}
	tbl, err := rt.svc.OpenTable(ctx, name, notices)
	if err != nil {
		return editResult{}, err
	}
	defer tbl.Close()

	row, ok := tbl.Store.Get(id)
	if !ok {
		return editResult{}, domain.ErrNotFound{Table: name, ID: id}
	}
	field, ok := tbl.Spec.Field(fieldName)
	if !ok {
		return editResult{}, &domain.ValidationError{Fields: []string{fieldName}, Message: domain.MsgUnknownField}
	}

	nav := celledit.NewNavigator()
	for _, r := range tbl.Store.Confirmed() {
		nav.Register(r.ID(), tbl.Spec.EditableFields())
	}
	sopts := celledit.Options{
		Commit:    celledit.UpdateVia(tbl),
		Navigator: nav,
		Debounce:  rt.cfg.BRNDebounce,
		Logger:    rt.logger,
	}
	if field.Kind == domain.KindBusinessNumber {
		if sopts.Checker, err = rt.svc.BusinessNumberChecker(ctx); err != nil {
			return editResult{}, err
		}
	}
	cell := celledit.CellRef{Row: id, Field: field.Name}
	sess := celledit.New(cell, field, row[field.Name], sopts)
	defer sess.Cancel()
	if !sess.Activate(celledit.DoubleClick, 0) {
		return editResult{}, &domain.ValidationError{Fields: []string{field.Name}, Message: "read-only field"}
	}
	sess.Input(value)
	out := sess.HandleKey(ctx, celledit.KeyTab)
	if out.Err != nil {
		return editResult{}, out.Err
	}
	return editResult{
		Cell:    cell,
		Value:   sess.Committed(),
		Saved:   out.Committed,
		Next:    out.Focus,
		Notices: notices.Drain(),
	}, nil
}

func printEdit(w io.Writer, format string, res editResult) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(res)
	}
	status := "unchanged"
	if res.Saved {
		status = "saved"
	}
	if _, err := fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", res.Cell.Row, res.Cell.Field, res.Value, status); err != nil {
		return err
	}
	if res.Next.IsZero() {
		return nil
	}
	_, err := fmt.Fprintf(w, "next\t%s\t%s\n", res.Next.Row, res.Next.Field)
	return err
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <table> field=value...",
		Short: "Create a row through the draft row",
		Long: `Start a draft row with the given fields and commit it.

Values are canonicalized before they are sent; a rejected draft is reported
with the backend's message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := domain.Record{}
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid field %q: want field=value", kv)
				}
				fields[k] = v
			}
			ctx := systemContext(cmd.Context())
			rt, err := opts.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			tbl, err := rt.svc.OpenTable(ctx, args[0], nil)
			if err != nil {
				return err
			}
			defer tbl.Close()
			if err := tbl.Begin(fields); err != nil {
				return err
			}
			created, err := tbl.Commit(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(created)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created\t%s\n", created.ID())
			return err
		},
	}
}
