package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/nozo-moto/quorumlock"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dial every configured node and report which are reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		failed := make(map[string]error)
		err = a.manager.Connect(cmd.Context())
		var nodeErr *quorumlock.NodeError
		for _, e := range unwrap(err) {
			if !errors.As(e, &nodeErr) {
				return e
			}
			failed[nodeErr.Node] = nodeErr.Err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tADDRESS\tSTATUS")
		for _, n := range a.manager.Nodes() {
			status := "ok"
			if e, ok := failed[n.String()]; ok {
				status = e.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", n.String(), n.Addr(), status)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		reachable := len(a.manager.Nodes()) - len(failed)
		if reachable < a.manager.Majority() {
			return fmt.Errorf("%d of %d nodes reachable, %d needed for a lock",
				reachable, len(a.manager.Nodes()), a.manager.Majority())
		}
		return nil
	},
}

func unwrap(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
