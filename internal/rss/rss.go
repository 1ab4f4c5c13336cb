// Package rss is the unauthenticated fallback: it reads the feed's public
// RSS rendition and extracts every link from the entry content. Useful when
// OAuth credentials are not available and only the link inventory matters.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Post is one RSS entry with the links found in its content.
type Post struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Link         string   `json:"link"`
	Published    string   `json:"published"`
	Updated      string   `json:"updated"`
	ContentLinks []string `json:"content_links"`
	Summary      string   `json:"summary"`
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch downloads and parses the RSS feed at rssURL.
func (f *Fetcher) Fetch(ctx context.Context, rssURL string) ([]Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rssURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("rss fetch failed: %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	posts := make([]Post, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		content := item.Content
		if content == "" {
			content = item.Description
		}

		author := ""
		if item.Author != nil {
			author = item.Author.Name
		}

		summary := item.Description
		if len(summary) > 500 {
			summary = summary[:500]
		}

		posts = append(posts, Post{
			ID:           item.GUID,
			Title:        item.Title,
			Author:       author,
			Link:         item.Link,
			Published:    item.Published,
			Updated:      item.Updated,
			ContentLinks: ExtractLinks(content),
			Summary:      summary,
		})
	}
	return posts, nil
}

var plainURLPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// ExtractLinks pulls every href/src attribute plus bare URLs out of an HTML
// fragment, deduplicated and sorted.
func ExtractLinks(htmlContent string) []string {
	if htmlContent == "" {
		return nil
	}

	links := map[string]struct{}{}

	// Parse as fragment so this works on partial HTML from RSS feeds.
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(htmlContent), root)
	if err == nil {
		for _, n := range nodes {
			root.AppendChild(n)
		}
		var walk func(n *html.Node)
		walk = func(n *html.Node) {
			if n == nil {
				return
			}
			if n.Type == html.ElementNode {
				for _, attr := range n.Attr {
					if attr.Key == "href" || attr.Key == "src" {
						if attr.Val != "" {
							links[attr.Val] = struct{}{}
						}
					}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
	}

	// Bare URLs in text, including ones inside escaped markup the parser
	// treats as text.
	for _, match := range plainURLPattern.FindAllString(htmlContent, -1) {
		links[html.UnescapeString(match)] = struct{}{}
	}

	if len(links) == 0 {
		return nil
	}
	out := make([]string, 0, len(links))
	for link := range links {
		out = append(out, link)
	}
	sort.Strings(out)
	return out
}
