package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// postFields are the listing fields the core actually reads. Detail data is
// unmarshalled over the same struct, so keys absent from the detail payload
// keep their listing values.
type postFields struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	CreatedUTC        float64 `json:"created_utc"`
	Subreddit         string  `json:"subreddit"`
	Author            string  `json:"author"`
	Title             string  `json:"title"`
	SelfText          string  `json:"selftext"`
	URL               string  `json:"url"`
	Permalink         string  `json:"permalink"`
	IsSelf            bool    `json:"is_self"`
	Over18            bool    `json:"over_18"`
	Score             int     `json:"score"`
	NumComments       int     `json:"num_comments"`
	RemovedByCategory string  `json:"removed_by_category"`
}

// Record is the assembled output for one new item. The raw upstream
// payloads ride along as opaque blobs; the core does not interpret them.
type Record struct {
	ID         string  `json:"id"`
	Fullname   string  `json:"fullname"`
	CreatedUTC float64 `json:"created_utc"`
	Subreddit  string  `json:"subreddit"`
	Author     string  `json:"author"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	IsSelf     bool    `json:"is_self"`
	Over18     bool    `json:"over_18"`
	Score      int     `json:"score"`
	NumComments int    `json:"num_comments"`

	RawListingItem json.RawMessage `json:"raw_listing_item,omitempty"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	Comments       json.RawMessage `json:"comments,omitempty"`

	FetchedAtUTC float64 `json:"fetched_at_utc"`

	IsDeletedOrRemoved bool   `json:"is_deleted_or_removed"`
	RemovedHint        string `json:"removed_hint,omitempty"`

	// CommentsError records a partial result: the comment fetch failed but
	// the item was still emitted.
	CommentsError string `json:"comments_error,omitempty"`
}

// BuildRecord merges a listing item with its optional detail payload and
// derives the deleted/removed flags.
func BuildRecord(item Item, detail *Item, fetchedAt time.Time) (*Record, error) {
	var fields postFields
	if len(item.Data) > 0 {
		if err := json.Unmarshal(item.Data, &fields); err != nil {
			return nil, err
		}
	}
	var detailRaw json.RawMessage
	if detail != nil {
		// Detail data is generally more complete; overlay it field by
		// field without clobbering listing values for absent keys.
		if len(detail.Data) > 0 {
			if err := json.Unmarshal(detail.Data, &fields); err != nil {
				return nil, err
			}
		}
		detailRaw = detail.Raw
	}

	removed, hint := detectRemoved(fields)

	return &Record{
		ID:                 fields.ID,
		Fullname:           fields.Name,
		CreatedUTC:         fields.CreatedUTC,
		Subreddit:          fields.Subreddit,
		Author:             fields.Author,
		Title:              fields.Title,
		SelfText:           fields.SelfText,
		URL:                fields.URL,
		Permalink:          fields.Permalink,
		IsSelf:             fields.IsSelf,
		Over18:             fields.Over18,
		Score:              fields.Score,
		NumComments:        fields.NumComments,
		RawListingItem:     item.Raw,
		Detail:             detailRaw,
		FetchedAtUTC:       float64(fetchedAt.UnixNano()) / float64(time.Second),
		IsDeletedOrRemoved: removed,
		RemovedHint:        hint,
	}, nil
}

// detectRemoved inspects the author/body sentinel markers the service uses
// for deleted and moderator-removed content.
func detectRemoved(fields postFields) (bool, string) {
	var hints []string

	if fields.Author == "[deleted]" {
		hints = append(hints, "author_deleted")
	}
	if fields.SelfText == "[deleted]" {
		hints = append(hints, "text_deleted")
	}
	if fields.SelfText == "[removed]" {
		hints = append(hints, "text_removed")
	}
	if fields.RemovedByCategory != "" {
		hints = append(hints, "removed_by_"+fields.RemovedByCategory)
	}

	if len(hints) == 0 {
		return false, ""
	}
	return true, strings.Join(hints, "|")
}
