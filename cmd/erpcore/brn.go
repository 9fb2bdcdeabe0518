package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"erpcore/internal/celledit"
)

func newBRNCommand(opts *rootOptions) *cobra.Command {
	var (
		exclude string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "brn [number...]",
		Short: "Validate business registration numbers",
		Long: `Validate business registration numbers and check they are not used by
another company.

With --watch, values are read line by line from stdin as they would be typed
into the company form and the debounced status changes are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := systemContext(cmd.Context())
			rt, err := opts.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if watch {
				return watchBRN(ctx, rt, cmd.InOrStdin(), cmd.OutOrStdout(), exclude, opts.Format)
			}
			if len(args) == 0 {
				return fmt.Errorf("at least one number is required")
			}
			for _, raw := range args {
				st, err := rt.svc.CheckBusinessNumber(ctx, raw, exclude)
				if err != nil {
					return err
				}
				if err := printState(cmd.OutOrStdout(), opts.Format, st); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "company id whose own number is ignored")
	cmd.Flags().BoolVar(&watch, "watch", false, "read values from stdin and report debounced checks")
	return cmd
}

func printState(w io.Writer, format string, st celledit.BRNState) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(st)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\n", st.Value, st.Status)
	return err
}

// watchBRN feeds stdin lines into a debounced input. Each line's immediate
// status is printed as it is typed; uniqueness results arrive later from the
// debounce timer. It returns once stdin is exhausted and the last value has
// been checked.
func watchBRN(ctx context.Context, rt *runtime, in io.Reader, out io.Writer, exclude, format string) error {
	checker, err := rt.svc.BusinessNumberChecker(ctx)
	if err != nil {
		return err
	}
	results := make(chan celledit.BRNState, 16)
	input := celledit.NewBusinessNumberInput(checker, exclude, rt.cfg.BRNDebounce, func(st celledit.BRNState) {
		switch st.Status {
		case celledit.BRNAvailable, celledit.BRNDuplicate, celledit.BRNCheckFailed:
			if checker != nil {
				results <- st
			}
		}
	})
	defer input.Close()

	var last celledit.BRNState
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		last = input.Set(sc.Text())
		if err := printState(out, format, last); err != nil {
			return err
		}
		if err := drainResults(out, format, results); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if last.Status != celledit.BRNChecking {
		return nil
	}

	timeout := time.After(rt.cfg.BRNDebounce + 10*time.Second)
	for {
		select {
		case st := <-results:
			if err := printState(out, format, st); err != nil {
				return err
			}
			if st.Value == last.Value {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("business number check timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func drainResults(out io.Writer, format string, results <-chan celledit.BRNState) error {
	for {
		select {
		case st := <-results:
			if err := printState(out, format, st); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
