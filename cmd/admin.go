package cmd

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/spf13/cobra"
)

var (
	reindexType string
	lookupType  string
	lookupLimit int
)

func init() {
	reindexCmd.Flags().StringVarP(&reindexType, "type", "t", "", "Record type to rebuild (default both)")
	lookupCmd.Flags().StringVarP(&lookupType, "type", "t", "bib", "Record type the field belongs to")
	lookupCmd.Flags().IntVarP(&lookupLimit, "limit", "n", 0, "Maximum headings")
	rootCmd.AddCommand(reindexCmd, mergeCmd, lookupCmd)
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild side indexes and search projections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types := api.RecordTypes
		if reindexType != "" {
			rt, err := recordType(reindexType)
			if err != nil {
				return err
			}
			types = []api.RecordType{rt}
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		var errs []error
		for _, rt := range types {
			rep, err := c.Reindex(rt)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d reindexed, %d failed\n", rt, len(rep.Updated), len(rep.Failed))
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge [gaining] [losing]",
	Short: "Merge authority losing into gaining and delete it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ids [2]int
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid authority id %q", a)
			}
			ids[i] = n
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		rep, err := c.Merge(ids[0], ids[1], userName)
		printReport(cmd, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "merged %d into %d\n", ids[1], ids[0])
		return nil
	},
}

func printReport(cmd *cobra.Command, rep catalog.PropagationReport) {
	out := cmd.OutOrStdout()
	for _, ref := range rep.Updated {
		fmt.Fprintf(out, "updated %s\n", ref)
	}
	refs := slices.Collect(maps.Keys(rep.Failed))
	slices.SortFunc(refs, func(a, b catalog.Ref) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.ID, b.ID))
	})
	for _, ref := range refs {
		fmt.Fprintf(out, "failed %s: %v\n", ref, rep.Failed[ref])
	}
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [tag] [code] [text]",
	Short: "List authority headings a controlled subfield could link to",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := recordType(lookupType)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		if !c.Table().IsControlled(rt, args[0], args[1]) {
			return fmt.Errorf("%s %s$%s is not authority-controlled", rt, args[0], args[1])
		}
		matches, err := c.Resolver().PartialLookup(rt, args[0], args[1], args[2], lookupLimit)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", m.Xref, m.Value)
		}
		return nil
	},
}
