package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vferraz/acervo/internal/config"
	"github.com/vferraz/acervo/internal/indexing"
	"github.com/vferraz/acervo/internal/rag"
	"github.com/vferraz/acervo/internal/vectorstore"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <collection-id>",
	Short: "Index a collection into the vector store",
	Long: `Index a collection into the vector store.

By default a resumable background job is started; the server advances it
batch by batch and survives restarts. With --wait the whole collection is
indexed in one blocking call.

Examples:
  acervo index 12
  acervo index 12 --force
  acervo index 12 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCollectionID(args[0])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]bool{"force_update": force, "wait": wait}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/collections/%d/index", id), body)
		if err != nil {
			return err
		}

		if wait {
			var summary indexing.IndexSummary
			if err := decodeJSON(resp, &summary); err != nil {
				return err
			}
			printSuccess("Indexed collection %d: %d items (%d indexed, %d skipped, %d failed)",
				id, summary.Total, summary.Indexed, summary.Skipped, summary.Failed)
			return nil
		}

		var state indexing.JobState
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}
		printSuccess("Indexing started for %q (%d items, batches of %d)",
			state.CollectionName, state.TotalItems, state.BatchSize)
		printStep("Track progress with: acervo status")
		return nil
	},
}

var indexAllCmd = &cobra.Command{
	Use:   "index-all <collection-id>...",
	Short: "Index several collections at once",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		ids := make([]int64, len(args))
		for i, arg := range args {
			id, err := parseCollectionID(arg)
			if err != nil {
				return err
			}
			ids[i] = id
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(4)
		for _, id := range ids {
			g.Go(func() error {
				body := map[string]bool{"force_update": force}
				resp, err := client.post(ctx, fmt.Sprintf("/collections/%d/index", id), body)
				if err != nil {
					return err
				}
				var state indexing.JobState
				if err := decodeJSON(resp, &state); err != nil {
					printWarning("collection %d: %v", id, err)
					return nil
				}
				printSuccess("Indexing started for %q (%d items)", state.CollectionName, state.TotalItems)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	indexCmd.Flags().Bool("force", false, "re-embed items that are already indexed")
	indexCmd.Flags().Bool("wait", false, "index the whole collection synchronously")
	indexAllCmd.Flags().Bool("force", false, "re-embed items that are already indexed")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Ask a question about the indexed collections",
	Long: `Ask a question about the indexed collections.

Examples:
  acervo search "ceramic bowls from the 1920s"
  acervo search --collections 12,15 "portraits of women"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		collections, err := parseCollectionList(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", map[string]any{
			"query":       query,
			"collections": collections,
		})
		if err != nil {
			return err
		}

		var result rag.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		fmt.Println()
		for i, item := range result.Items {
			fmt.Printf("[%d] %s (%.1f%%)\n", i+1, item.Title, item.Score)
			if item.Permalink != "" {
				fmt.Printf("    %s\n", item.Permalink)
			}
		}
		printStatus("Search ID", "%s", result.ID)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("collections", "", "comma-separated collection ids to search in")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexing job status for all collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/indexing")
		if err != nil {
			return err
		}

		var states map[int64]*indexing.JobState
		if err := decodeJSON(resp, &states); err != nil {
			return err
		}
		if len(states) == 0 {
			printStep("No indexing jobs recorded")
			return nil
		}

		ids := make([]int64, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			s := states[id]
			fmt.Printf("%s (collection %d)\n", s.CollectionName, id)
			printStatus("Status", "%s", s.Status)
			printStatus("Progress", "%d/%d (%.0f%%)", s.Processed, s.TotalItems, s.Progress())
			printStatus("Counts", "%d indexed, %d skipped, %d failed", s.Indexed, s.Skipped, s.Failed)
			if len(s.Errors) > 0 {
				printWarning("last error: %s", s.Errors[len(s.Errors)-1])
			}
			fmt.Println()
		}
		return nil
	},
}

// --- cancel ---

var cancelCmd = &cobra.Command{
	Use:   "cancel <collection-id>",
	Short: "Cancel a running indexing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCollectionID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/collections/%d/index", id))
		if err != nil {
			return err
		}
		var state indexing.JobState
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}
		printSuccess("Cancelled indexing of %q after %d items", state.CollectionName, state.Processed)
		return nil
	},
}

// --- prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune <collection-id>",
	Short: "Remove vectors of items deleted from the source collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCollectionID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/collections/%d/prune", id), nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Removed %d orphaned vectors from collection %d", result["removed"], id)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector store and search statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Vectors       vectorstore.Stats `json:"vectors"`
			TotalSearches int               `json:"total_searches"`
			ByCollection  []struct {
				Collection string
				Count      int
			} `json:"searches_by_collection"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Indexed vectors", "%d", stats.Vectors.TotalVectors)
		printStatus("Total searches", "%d", stats.TotalSearches)
		for _, c := range stats.Vectors.Collections {
			fmt.Printf("  %s (collection %d): %d items\n", c.CollectionName, c.CollectionID, c.Vectors)
		}
		if len(stats.ByCollection) > 0 {
			printStatus("Searches by collection", "")
			for _, c := range stats.ByCollection {
				fmt.Printf("  %s: %d\n", c.Collection, c.Count)
			}
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/search-log?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Searches []struct {
				ID        string `json:"id"`
				Query     string `json:"query"`
				Feedback  *int   `json:"feedback"`
				CreatedAt string `json:"created_at"`
			} `json:"searches"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Searches) == 0 {
			printStep("No searches recorded")
			return nil
		}

		for _, s := range result.Searches {
			mark := " "
			if s.Feedback != nil {
				if *s.Feedback == 1 {
					mark = colorize(ansiGreen, "+")
				} else {
					mark = colorize(ansiRed, "-")
				}
			}
			fmt.Printf("%s %s  %s  %s\n", mark, s.CreatedAt, s.ID, s.Query)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of searches to show")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <search-id> <0|1>",
	Short: "Rate a past search (1 helpful, 0 not helpful)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[1])
		if err != nil || (value != 0 && value != 1) {
			return fmt.Errorf("feedback must be 0 or 1")
		}
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/search-log/%s/feedback", args[0]), map[string]any{
			"feedback": value,
			"notes":    notes,
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Feedback saved")
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("notes", "", "free-form notes about the answer")
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove finished indexing job states",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/indexing?days=%d", days))
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Removed %d old indexing states", result["removed"])
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 30, "remove finished states older than this many days")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			fmt.Printf("%-24s %-30s %s\n", info.Key, info.Value, colorize(ansiCyan, info.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration key to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func parseCollectionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid collection id %q", s)
	}
	return id, nil
}

func parseCollectionList(cmd *cobra.Command) ([]int64, error) {
	raw, _ := cmd.Flags().GetString("collections")
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := parseCollectionID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
