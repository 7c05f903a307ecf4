package cmd

import (
	"fmt"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/spf13/cobra"
)

var (
	searchType  string
	searchLimit int
	searchSkip  int
	searchCount bool
)

func init() {
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "bib", "Record type: bib or auth")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum records to print (0 for all)")
	searchCmd.Flags().IntVar(&searchSkip, "skip", 0, "Records to skip")
	searchCmd.Flags().BoolVar(&searchCount, "count", false, "Print the number of matches only")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search records with a query string",
	Long: `Search records with a query string such as

  245a:'Exact title' AND 650a:/^human/i
  269a:2024* OR symbol:A/RES/*
  "climate change" -emissions`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := recordType(searchType)
		if err != nil {
			return err
		}
		c, closeStore, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		out := cmd.OutOrStdout()
		if searchCount {
			n, err := c.CountSearch(rt, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, n)
			return nil
		}
		cur, err := c.Search(rt, args[0], store.FindOptions{
			Sort:  []store.SortKey{{Path: "_id"}},
			Skip:  searchSkip,
			Limit: searchLimit,
		})
		if err != nil {
			return err
		}
		for rec, err := range cur.All() {
			if err != nil {
				return err
			}
			printRecord(out, rec)
			fmt.Fprintln(out)
		}
		return nil
	},
}
