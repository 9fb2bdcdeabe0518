package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"erpcore/internal/hierarchy"
	"erpcore/pkg/domain"
)

func newTreeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the order hierarchy with totals",
		Long: `Print every original contract with its amendments.

Each group lists the original contract first, then its amendments. Orders
whose parent is missing or lies on a cycle are listed as their own group.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := systemContext(cmd.Context())
			rt, err := opts.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			roots, err := rt.svc.OrderTree(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"roots": roots})
			}
			return printTree(cmd.OutOrStdout(), roots)
		},
	}
}

func printTree(w io.Writer, roots []hierarchy.Summary) error {
	for _, root := range roots {
		if _, err := fmt.Fprintf(w, "%s  [%s]  %s\n", orderLabel(root.Node), root.TypeLabel, won(root.TotalAmount)); err != nil {
			return err
		}
		for _, child := range root.Node.Children {
			if err := printNode(w, child, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func printNode(w io.Writer, n *hierarchy.Node, depth int) error {
	if _, err := fmt.Fprintf(w, "%s└ %s  %s\n", strings.Repeat("  ", depth), orderLabel(n), won(n.Order.Float(domain.FieldAmount))); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := printNode(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func orderLabel(n *hierarchy.Node) string {
	name := n.Order.Text(domain.FieldContractName)
	if name == "" {
		name = n.ID()
	}
	if n.Synthetic() {
		return name + " (원계약)"
	}
	return name
}

var krPrinter = message.NewPrinter(language.Korean)

// won renders an amount with Korean digit grouping.
func won(v float64) string {
	return krPrinter.Sprintf("%v원", number.Decimal(v))
}
