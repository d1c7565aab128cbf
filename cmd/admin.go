package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	recoverCommit   []string
	recoverRollback []string
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List or resolve prepared transactions",
	Long: `Run crash recovery and list the prepared transactions that wait for a
decision. Committed transactions found in the write-ahead log are replayed
during recovery and are not listed.

Examples:
  afs recover                         # List pending transactions
  afs recover --commit <id>           # Commit a pending transaction
  afs recover --rollback <id>,<id>    # Roll back pending transactions`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List the locks held after recovery",
	Args:  cobra.NoArgs,
	RunE:  runLocks,
}

func init() {
	rootCmd.AddCommand(recoverCmd, locksCmd)

	recoverCmd.Flags().StringSliceVar(&recoverCommit, "commit", nil, "Transactions to commit")
	recoverCmd.Flags().StringSliceVar(&recoverRollback, "rollback", nil, "Transactions to roll back")
}

func runRecover(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range recoverCommit {
		errs = append(errs, resolve(a.manager.NewConnection(), id, (*transaction.Connection).Commit))
	}
	for _, id := range recoverRollback {
		errs = append(errs, resolve(a.manager.NewConnection(), id, (*transaction.Connection).Rollback))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	pending := a.manager.Recovered().IDs()
	w := cmd.OutOrStdout()
	if useJSON(w) {
		return writeJSON(w, pending)
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending transactions")
		return nil
	}
	for _, id := range pending {
		fmt.Fprintln(w, id)
	}
	return nil
}

// resolve resumes the prepared transaction id on conn and applies decide.
func resolve(conn *transaction.Connection, raw string, decide func(*transaction.Connection) error) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("transaction id %q: %w", raw, err)
	}
	if err := conn.Begin(id); err != nil {
		return err
	}
	if !conn.IsTwoPhaseCommit() {
		_ = conn.Rollback()
		return fmt.Errorf("transaction %s is not pending", id)
	}
	return decide(conn)
}

func runLocks(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	locks := a.manager.Locks()
	w := cmd.OutOrStdout()
	if useJSON(w) {
		return writeJSON(w, locks)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tTYPE\tRESOURCE")
	for _, l := range locks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Owner, l.Type, l.Resource)
	}
	return tw.Flush()
}
