package cli

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestWrapPreRunCallsFAndParentInOrder(t *testing.T) {
	var calls []string

	root := &cobra.Command{
		Use: "root",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			calls = append(calls, "parent")
		},
	}
	child := &cobra.Command{
		Use: "child",
		Run: func(cmd *cobra.Command, args []string) {
			calls = append(calls, "run")
		},
	}
	root.AddCommand(child)

	WrapPreRun(root, func(cmd *cobra.Command, args []string) error {
		calls = append(calls, "f")
		return nil
	})

	root.SetArgs([]string{"child"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(calls) < 2 || calls[0] != "f" {
		t.Fatalf("expected f to run first, got %v", calls)
	}
	found := false
	for _, c := range calls {
		if c == "parent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected parent's PersistentPreRun to still run, got %v", calls)
	}
}

func TestWrapPreRunPropagatesError(t *testing.T) {
	root := &cobra.Command{Use: "root", Run: func(cmd *cobra.Command, args []string) {}}

	WrapPreRun(root, func(cmd *cobra.Command, args []string) error {
		return errBoom
	})

	root.SetArgs([]string{})
	if err := root.Execute(); err != errBoom {
		t.Fatalf("err = %v, want errBoom", err)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
