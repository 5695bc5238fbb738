package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/console"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Query the local plugin catalog",
}

var dbQueryFlags struct {
	search      string
	tag         string
	author      string
	minInstalls int
	maxInstalls int
	minAgeDays  int
	maxAgeDays  int
	abandoned   bool
	sort        string
	asc         bool
	limit       int
	offset      int
}

var dbQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search cached registry metadata",
	RunE:  runDBQuery,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog coverage",
	RunE:  runDBStats,
}

var dbHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sync runs",
	RunE:  runDBHistory,
}

func init() {
	f := dbQueryCmd.Flags()
	f.StringVarP(&dbQueryFlags.search, "search", "s", "", "substring match on slug or name")
	f.StringVar(&dbQueryFlags.tag, "tag", "", "substring match on category tags")
	f.StringVar(&dbQueryFlags.author, "author", "", "substring match on author")
	f.IntVar(&dbQueryFlags.minInstalls, "min-installs", 0, "minimum active installations")
	f.IntVar(&dbQueryFlags.maxInstalls, "max-installs", 0, "maximum active installations (0 = unlimited)")
	f.IntVar(&dbQueryFlags.minAgeDays, "min-days", 0, "minimum days since last update")
	f.IntVar(&dbQueryFlags.maxAgeDays, "max-days", 0, "maximum days since last update (0 = unlimited)")
	f.BoolVar(&dbQueryFlags.abandoned, "abandoned", false, "only entries untouched for over two years")
	f.StringVar(&dbQueryFlags.sort, "sort", "active_installs", "sort column")
	f.BoolVar(&dbQueryFlags.asc, "asc", false, "sort ascending instead of descending")
	f.IntVarP(&dbQueryFlags.limit, "limit", "l", 50, "rows to return")
	f.IntVar(&dbQueryFlags.offset, "offset", 0, "rows to skip")

	dbHistoryCmd.Flags().IntVarP(&dbQueryFlags.limit, "limit", "l", 20, "runs to show")

	dbCmd.AddCommand(dbQueryCmd)
	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(dbHistoryCmd)
}

func openCatalog() (*catalog.Store, error) {
	store, err := catalog.Open(settings.CatalogDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	return store, nil
}

func runDBQuery(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Query(cmd.Context(), catalog.QueryFilters{
		Search:      dbQueryFlags.search,
		Tag:         dbQueryFlags.tag,
		Author:      dbQueryFlags.author,
		MinInstalls: dbQueryFlags.minInstalls,
		MaxInstalls: dbQueryFlags.maxInstalls,
		MinAgeDays:  dbQueryFlags.minAgeDays,
		MaxAgeDays:  dbQueryFlags.maxAgeDays,
		Abandoned:   dbQueryFlags.abandoned,
		SortBy:      dbQueryFlags.sort,
		SortDesc:    !dbQueryFlags.asc,
		Limit:       dbQueryFlags.limit,
		Offset:      dbQueryFlags.offset,
	})
	if err != nil {
		return err
	}
	console.NewPrinter(os.Stdout).Catalog(entries)
	return nil
}

func runDBStats(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	lastFetched := ""
	if !st.LastFetchedAt.IsZero() {
		lastFetched = st.LastFetchedAt.Format("2006-01-02 15:04:05")
	}
	console.NewPrinter(os.Stdout).CatalogStats(st.TotalVersions, st.DistinctSlugs, lastFetched)
	return nil
}

func runDBHistory(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.SyncHistory(cmd.Context(), dbQueryFlags.limit)
	if err != nil {
		return err
	}
	printer := console.NewPrinter(os.Stdout)
	for _, run := range runs {
		printer.SyncRun(run)
	}
	return nil
}
