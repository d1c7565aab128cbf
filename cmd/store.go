package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var newTransactionID = uuid.New

// =============================================================================
// Store Command Flags
// =============================================================================

var (
	lsRecursive   bool
	catOffset     int64
	catLimit      int
	putOffset     int64
	previewOutput string
)

// =============================================================================
// Store Commands
// =============================================================================

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory of the store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print the content of a stored file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

var putCmd = &cobra.Command{
	Use:   "put <path> [local-file]",
	Short: "Write a local file or stdin into the store",
	Long: `Write the content of a local file, or stdin when no file is given, into
the store at the given offset. Missing files and parent directories are
created.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inTransaction(cmd, func(conn *transaction.Connection) error {
			return conn.Create(args[0], true)
		})
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <path>",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inTransaction(cmd, func(conn *transaction.Connection) error {
			return conn.Create(args[0], false)
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inTransaction(cmd, func(conn *transaction.Connection) error {
			return conn.Delete(args[0])
		})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <source> <target>",
	Short: "Copy a file or a directory tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inTransaction(cmd, func(conn *transaction.Connection) error {
			return conn.Copy(args[0], args[1])
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <source> <target>",
	Short: "Move a file or a directory tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inTransaction(cmd, func(conn *transaction.Connection) error {
			return conn.Move(args[0], args[1])
		})
	},
}

var dfCmd = &cobra.Command{
	Use:   "df [path]",
	Short: "Show the capacity of the volume holding the store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDf,
}

var hashCmd = &cobra.Command{
	Use:   "hash <path>",
	Short: "Print the MD5 digest of a stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd, func(conn *transaction.Connection) error {
			sum, err := conn.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <path>",
	Short: "Write the JPEG preview of a stored image",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(lsCmd, catCmd, putCmd, mkdirCmd, touchCmd, rmCmd, cpCmd, mvCmd, dfCmd, hashCmd, previewCmd)

	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "List subdirectories recursively")
	catCmd.Flags().Int64Var(&catOffset, "offset", 0, "First byte to print")
	catCmd.Flags().IntVar(&catLimit, "limit", -1, "Number of bytes to print (-1 prints to the end)")
	putCmd.Flags().Int64Var(&putOffset, "offset", 0, "Offset to write at")
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "", "File to write the preview to (default stdout)")
}

// =============================================================================
// Queries
// =============================================================================

func runLs(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}

	return withConnection(cmd, func(conn *transaction.Connection) error {
		files, err := conn.List(path, lsRecursive)
		if err != nil {
			return err
		}
		return printFiles(cmd.OutOrStdout(), files)
	})
}

func printFiles(w io.Writer, files []transaction.File) error {
	if useJSON(w) {
		return writeJSON(w, files)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSIZE\tMODIFIED\tPATH")
	for _, f := range files {
		kind, size := "file", formatBytes(f.Size)
		if f.Directory {
			kind, size = "dir", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, size, f.LastModified.Format(time.RFC3339), f.Path)
	}
	return tw.Flush()
}

func runCat(cmd *cobra.Command, args []string) error {
	return withConnection(cmd, func(conn *transaction.Connection) error {
		limit := catLimit
		if limit < 0 {
			size, err := fileSize(conn, args[0])
			if err != nil {
				return err
			}
			limit = int(max(size-catOffset, 0))
		}

		data, err := conn.Read(args[0], catOffset, limit)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	})
}

// fileSize returns the size of a stored regular file.
func fileSize(conn *transaction.Connection, path string) (int64, error) {
	clean, err := transaction.ValidatePath(transaction.KindRead, path)
	if err != nil {
		return 0, err
	}
	files, err := conn.List(clean, false)
	if err != nil {
		return 0, err
	}
	if len(files) != 1 || files[0].Directory || files[0].Path != clean {
		return 0, coreerrors.New(coreerrors.CodePathIsDirectory, string(transaction.KindRead), path)
	}
	return files[0].Size, nil
}

func runDf(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}

	return withConnection(cmd, func(conn *transaction.Connection) error {
		space, err := conn.Free(path)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if useJSON(w) {
			return writeJSON(w, space)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOTAL\tUSED\tFREE")
		fmt.Fprintf(tw, "%s\t%s\t%s\n", formatBytes(space.Total), formatBytes(space.Total-space.Free), formatBytes(space.Free))
		return tw.Flush()
	})
}

func runPreview(cmd *cobra.Command, args []string) error {
	return withConnection(cmd, func(conn *transaction.Connection) error {
		data, err := conn.Preview(args[0])
		if err != nil {
			return err
		}
		if len(data) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "no preview for %s\n", args[0])
			return nil
		}
		if previewOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(previewOutput, data, 0644)
	})
}

// =============================================================================
// Modifications
// =============================================================================

func runPut(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[1:])
	if err != nil {
		return err
	}
	return inTransaction(cmd, func(conn *transaction.Connection) error {
		return conn.Write(args[0], putOffset, data)
	})
}

// readInput reads the local file named in args, or stdin when args is empty.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
