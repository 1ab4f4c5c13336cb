package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quinnstephens/multifeed/internal/rss"
)

// linksCmd is the unauthenticated fallback: read the feed's public RSS
// rendition and print every link found in the entry content.
var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Extract links from the feed's public RSS rendition",
	Long: `Fetch the custom feed's public RSS URL without authentication and
extract every link from the entry content. Useful for a quick look at a
feed before setting up OAuth credentials.`,
	RunE: runLinks,
}

func init() {
	rootCmd.AddCommand(linksCmd)
	linksCmd.Flags().String("rss-url", "", "RSS feed URL (e.g. https://www.reddit.com/user/someone/m/mymulti/new.rss)")
	linksCmd.Flags().String("user-agent", "", "User-Agent header to send")
	linksCmd.Flags().String("output", "", "write entries as JSONL to this file")
	linksCmd.Flags().Bool("json", false, "print entries as JSON instead of a summary")
	_ = linksCmd.MarkFlagRequired("rss-url")
	_ = linksCmd.MarkFlagRequired("user-agent")
}

func runLinks(cmd *cobra.Command, args []string) error {
	rssURL, _ := cmd.Flags().GetString("rss-url")
	userAgent, _ := cmd.Flags().GetString("user-agent")
	outputPath, _ := cmd.Flags().GetString("output")
	asJSON, _ := cmd.Flags().GetBool("json")

	fetcher := rss.NewFetcher(30*time.Second, userAgent)
	posts, err := fetcher.Fetch(cmd.Context(), rssURL)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(posts); err != nil {
			return err
		}
	} else {
		printSummary(posts)
	}

	if outputPath != "" {
		if err := writeJSONL(outputPath, posts); err != nil {
			return err
		}
		fmt.Printf("saved %d entries to %s\n", len(posts), outputPath)
	}
	return nil
}

func printSummary(posts []rss.Post) {
	fmt.Printf("fetched %d entries\n\n", len(posts))

	all := map[string]struct{}{}
	for i, post := range posts {
		fmt.Printf("[%d] %s\n", i+1, post.Title)
		fmt.Printf("    author: %s\n", post.Author)
		fmt.Printf("    link:   %s\n", post.Link)
		for _, link := range post.ContentLinks {
			fmt.Printf("      - %s\n", link)
			all[link] = struct{}{}
		}
		fmt.Println()
	}

	unique := make([]string, 0, len(all))
	for link := range all {
		unique = append(unique, link)
	}
	sort.Strings(unique)
	fmt.Printf("unique links (%d):\n", len(unique))
	for _, link := range unique {
		fmt.Println(link)
	}
}

func writeJSONL(path string, posts []rss.Post) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, post := range posts {
		if err := enc.Encode(post); err != nil {
			return err
		}
	}
	return nil
}
