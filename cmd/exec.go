package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var execKeepGoing bool

var execCmd = &cobra.Command{
	Use:   "exec [script]",
	Short: "Run a script of transactional operations",
	Long: `Run instructions read from a script file, or stdin, one per line:

  <transaction> <verb> [arguments]

The first field names the transaction. It is either a transaction id or a
label that stands for a fresh id until the transaction is committed or
rolled back. Lines that are empty or start with '#' are ignored.

Verbs:
  write <path> <offset> <text>   Write text at offset
  put <path> <local-file>        Write a local file
  mkdir <path>                   Create a directory
  touch <path>                   Create an empty file
  rm <path>                      Delete a file or a directory tree
  cp <source> <target>           Copy
  mv <source> <target>           Move
  cat <path>                     Print a file as committed
  ls <path>                      List a directory as committed
  hash <path>                    Print the MD5 digest of a file
  prepare                        Journal the transaction for a later commit
  commit                         Commit the transaction
  rollback                       Roll the transaction back

Transactions left open when the script ends are rolled back; prepared ones
stay pending for "afs recover". The configuration is reloaded while the
script runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().BoolVarP(&execKeepGoing, "keep-going", "k", false, "Continue after a failed instruction")
}

func runExec(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.config.Watch(ctx); err != nil {
		a.logger.Warn("configuration changes will not be picked up", "error", err)
	}

	cfg := a.config.Get()
	pool, err := transaction.NewConnectionPool(a.manager, transaction.PoolOptions{
		IdleTimeout:   cfg.Pool.IdleTimeout,
		MaxIdle:       cfg.Pool.MaxIdle,
		SweepInterval: cfg.Pool.SweepInterval,
	})
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Close()

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	return newSession(pool, cmd.OutOrStdout(), a.logger).run(in, execKeepGoing)
}

// =============================================================================
// Session
// =============================================================================

// session executes script instructions against pooled connections, one
// connection per transaction.
type session struct {
	pool   *transaction.ConnectionPool
	out    io.Writer
	logger *slog.Logger
	labels map[string]uuid.UUID
}

func newSession(pool *transaction.ConnectionPool, out io.Writer, logger *slog.Logger) *session {
	return &session{
		pool:   pool,
		out:    out,
		logger: logger,
		labels: make(map[string]uuid.UUID),
	}
}

type verb struct {
	args int
	run  func(s *session, conn *transaction.Connection, args []string) error
	// ends marks verbs after which the connection leaves the pool.
	ends bool
}

var verbs = map[string]verb{
	"write": {args: 3, run: func(_ *session, conn *transaction.Connection, args []string) error {
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("offset %q: %w", args[1], err)
		}
		return conn.Write(args[0], offset, []byte(strings.Join(args[2:], " ")))
	}},
	"put": {args: 2, run: func(_ *session, conn *transaction.Connection, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return conn.Write(args[0], 0, data)
	}},
	"mkdir": {args: 1, run: func(_ *session, conn *transaction.Connection, args []string) error {
		return conn.Create(args[0], true)
	}},
	"touch": {args: 1, run: func(_ *session, conn *transaction.Connection, args []string) error {
		return conn.Create(args[0], false)
	}},
	"rm": {args: 1, run: func(_ *session, conn *transaction.Connection, args []string) error {
		return conn.Delete(args[0])
	}},
	"cp": {args: 2, run: func(_ *session, conn *transaction.Connection, args []string) error {
		return conn.Copy(args[0], args[1])
	}},
	"mv": {args: 2, run: func(_ *session, conn *transaction.Connection, args []string) error {
		return conn.Move(args[0], args[1])
	}},
	"cat": {args: 1, run: func(s *session, conn *transaction.Connection, args []string) error {
		size, err := fileSize(conn, args[0])
		if err != nil {
			return err
		}
		data, err := conn.Read(args[0], 0, int(size))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(s.out, "%s\n", data)
		return err
	}},
	"ls": {args: 1, run: func(s *session, conn *transaction.Connection, args []string) error {
		files, err := conn.List(args[0], false)
		if err != nil {
			return err
		}
		return printFiles(s.out, files)
	}},
	"hash": {args: 1, run: func(s *session, conn *transaction.Connection, args []string) error {
		sum, err := conn.Hash(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.out, sum)
		return err
	}},
	"prepare": {run: func(_ *session, conn *transaction.Connection, _ []string) error {
		ok, err := conn.Prepare()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("transaction %s is %s, not Begin", conn.TransactionID(), conn.State())
		}
		return nil
	}},
	"commit": {ends: true, run: func(_ *session, conn *transaction.Connection, _ []string) error {
		return conn.Commit()
	}},
	"rollback": {ends: true, run: func(_ *session, conn *transaction.Connection, _ []string) error {
		return conn.Rollback()
	}},
}

// run executes every instruction of r. Unless keepGoing is set it stops at
// the first failure.
func (s *session) run(r io.Reader, keepGoing bool) error {
	scanner := bufio.NewScanner(r)
	failed := 0
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := s.execute(strings.Fields(text)); err != nil {
			if !keepGoing {
				return fmt.Errorf("line %d: %w", line, err)
			}
			failed++
			s.logger.Error("instruction failed", "line", line, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d instructions failed", failed)
	}
	return nil
}

func (s *session) execute(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("want <transaction> <verb> [arguments], got %q", strings.Join(fields, " "))
	}
	label, name, args := fields[0], fields[1], fields[2:]

	v, ok := verbs[name]
	if !ok {
		return fmt.Errorf("unknown verb %q", name)
	}
	if len(args) < v.args {
		return fmt.Errorf("%s needs %d arguments, got %d", name, v.args, len(args))
	}

	id := s.transactionID(label)
	conn, err := s.pool.Get(id)
	if err != nil {
		return err
	}
	if err := v.run(s, conn, args); err != nil {
		return err
	}
	if v.ends {
		s.pool.Release(id)
		delete(s.labels, label)
	}
	return nil
}

// transactionID maps a label to its transaction id, minting one for labels
// that are not ids themselves.
func (s *session) transactionID(label string) uuid.UUID {
	if id, err := uuid.Parse(label); err == nil {
		return id
	}
	id, ok := s.labels[label]
	if !ok {
		id = newTransactionID()
		s.labels[label] = id
	}
	return id
}
