package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/models"
)

var listFlags struct {
	owner   string
	query   string
	sort    string
	page    int
	limit   int
	deleted bool
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List links across all owners",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srt, err := models.ParseSort(listFlags.sort)
		if err != nil {
			return err
		}
		if listFlags.page < 1 || listFlags.limit < 1 {
			return fmt.Errorf("page and limit must be positive")
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		page := models.Page{Number: listFlags.page, Limit: listFlags.limit}
		items, total, err := a.Store.List(ctx, models.LinkFilter{
			OwnerID:        listFlags.owner,
			Query:          listFlags.query,
			IncludeDeleted: listFlags.deleted,
		}, page, srt)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSHORT\tCLICKS\tACTIVE\tURL")
		for _, l := range items {
			state := fmt.Sprint(l.Active)
			if l.Deleted() {
				state = "deleted"
			}
			fmt.Fprintf(w, "%s\t%s/%s\t%d\t%s\t%s\n", l.ID, l.Domain, l.Keyword, l.Clicks, state, l.URL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d links)\n", page.Number, models.PageCount(total, page.Limit), total)
		return nil
	},
}

func init() {
	f := listCmd.Flags()
	f.StringVar(&listFlags.owner, "owner", "", "only links of this owner id")
	f.StringVarP(&listFlags.query, "query", "q", "", "substring of keyword, url or title")
	f.StringVarP(&listFlags.sort, "sort", "s", "", "sort key, e.g. -clicks or keyword:asc")
	f.IntVarP(&listFlags.page, "page", "p", 1, "page number")
	f.IntVarP(&listFlags.limit, "limit", "l", 20, "links per page")
	f.BoolVar(&listFlags.deleted, "deleted", false, "include soft-deleted links")
}
