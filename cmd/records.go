package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/spf13/cobra"
)

var showFormat string

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "", "Output format: mrk, json, xml or yaml (default colored line form)")
	rootCmd.AddCommand(showCmd, deleteCmd, historyCmd, revertCmd, restoreCmd)
}

var showCmd = &cobra.Command{
	Use:   "show [type] [id]",
	Short: "Print one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, id, err := recordArgs(args)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		rec, err := c.Get(rt, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s %d not found", rt, id)
		}
		return writeRecord(cmd, rec, showFormat)
	},
}

func writeRecord(cmd *cobra.Command, rec *marc.Record, format string) error {
	out := cmd.OutOrStdout()
	if format == "" {
		printRecord(out, rec)
		return nil
	}
	s, err := formatRecord(rec, format)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, err = io.WriteString(out, s)
	return err
}

var deleteCmd = &cobra.Command{
	Use:   "delete [type] [id]",
	Short: "Delete a record; it stays recoverable with restore",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, id, err := recordArgs(args)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := c.Delete(rt, id, userName); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %d\n", rt, id)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [type] [id]",
	Short: "List the committed states of a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, id, err := recordArgs(args)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		h, err := c.History(rt, id)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%s %d has no history", rt, id)
		}
		out := cmd.OutOrStdout()
		for i, snap := range h.Snapshots {
			fmt.Fprintf(out, "%3d  %s  %s\n", i, snap.Updated.Format(marc.TimeFormat), snap.User)
		}
		printEvent(cmd, "created", h.Created)
		printEvent(cmd, "deleted", h.Deleted)
		printEvent(cmd, "restored", h.Restored)
		if h.Merged != nil {
			printEvent(cmd, "merged into "+strconv.Itoa(h.MergedInto), h.Merged)
		}
		return nil
	},
}

func printEvent(cmd *cobra.Command, what string, e *catalog.Event) {
	if e == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s by %s\n", what, e.Time.Format(marc.TimeFormat), e.User)
}

var revertCmd = &cobra.Command{
	Use:   "revert [type] [id] [n]",
	Short: "Commit state n of a record's history as its current state",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, id, err := recordArgs(args)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid history index %q", args[2])
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		rec, err := c.Revert(rt, id, n, userName)
		if err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [type] [id]",
	Short: "Restore a deleted record to its last committed state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, id, err := recordArgs(args)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		rec, err := c.Restore(rt, id, userName)
		if err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}
