// Package feed speaks the wrapped service's listing API: multi validation,
// listing pages, batched detail lookups, and comment trees. Every call goes
// through the shared dispatcher so the request budget stays global.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/quinnstephens/multifeed/internal/auth"
	"github.com/quinnstephens/multifeed/internal/core"
	"github.com/quinnstephens/multifeed/internal/dispatch"
)

// MaxIDsPerInfoRequest is the batching limit of the /api/info endpoint.
const MaxIDsPerInfoRequest = 100

// Doer is the outbound call surface, implemented by dispatch.Dispatcher.
type Doer interface {
	Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// ValidationError means the configured multi does not exist or cannot be
// accessed with the current credentials.
type ValidationError struct {
	Multipath string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("multi %s: %s", e.Multipath, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// MultiInfo is the metadata of a validated multireddit.
type MultiInfo struct {
	Name           string
	DisplayName    string
	Path           string
	Owner          string
	Description    string
	Subreddits     []string
	Visibility     string
	CreatedUTC     float64
	NumSubscribers int
}

// Item is one listing entry: its parsed identifiers plus the raw payloads
// kept for output fidelity.
type Item struct {
	Kind     string
	Fullname string
	ID       string
	Data     json.RawMessage
	Raw      json.RawMessage
}

type Client struct {
	d         Doer
	multipath string
}

func NewClient(d Doer, multipath string) *Client {
	return &Client{d: d, multipath: multipath}
}

type multiResponse struct {
	Data struct {
		Name          string  `json:"name"`
		DisplayName   string  `json:"display_name"`
		Path          string  `json:"path"`
		Owner         string  `json:"owner"`
		DescriptionMD string  `json:"description_md"`
		Visibility    string  `json:"visibility"`
		CreatedUTC    float64 `json:"created_utc"`
		NumSubscribers int    `json:"num_subscribers"`
		Subreddits    []struct {
			Name string `json:"name"`
		} `json:"subreddits"`
	} `json:"data"`
}

// Multi checks that the configured multi exists and is accessible, and
// returns its metadata.
func (c *Client) Multi(ctx context.Context) (*MultiInfo, error) {
	body, err := c.d.Get(ctx, "/api/multi"+c.multipath, nil)
	if err != nil {
		var pe *dispatch.PermanentClientError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return nil, &ValidationError{Multipath: c.multipath, Reason: "not found, check that the multi exists and the path is correct", Err: err}
		}
		if auth.IsAuthError(err) {
			return nil, &ValidationError{Multipath: c.multipath, Reason: "access denied, the multi may be private", Err: err}
		}
		return nil, fmt.Errorf("validate multi %s: %w", c.multipath, err)
	}

	var mr multiResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("decode multi response: %w", err)
	}

	info := &MultiInfo{
		Name:           mr.Data.Name,
		DisplayName:    mr.Data.DisplayName,
		Path:           mr.Data.Path,
		Owner:          mr.Data.Owner,
		Description:    mr.Data.DescriptionMD,
		Visibility:     mr.Data.Visibility,
		CreatedUTC:     mr.Data.CreatedUTC,
		NumSubscribers: mr.Data.NumSubscribers,
	}
	for _, sub := range mr.Data.Subreddits {
		if sub.Name != "" {
			info.Subreddits = append(info.Subreddits, sub.Name)
		}
	}

	core.LoggerFromContext(ctx).Info("multi validated",
		"display_name", info.DisplayName,
		"visibility", info.Visibility,
		"subreddits", len(info.Subreddits))

	return info, nil
}

// Listing fetches one page of the multi's feed in the order the service
// returns it. limit must be at most 100.
func (c *Client) Listing(ctx context.Context, sort string, limit int) ([]Item, error) {
	if limit < 1 || limit > 100 {
		return nil, fmt.Errorf("listing limit must be between 1 and 100, got %d", limit)
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.d.Get(ctx, c.multipath+"/"+sort, query)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	items, err := parseListing(body)
	if err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	core.LoggerFromContext(ctx).Info("fetched listing",
		"endpoint", c.multipath+"/"+sort, "items", len(items))

	return items, nil
}

// Info batch-fetches detail for the given fullnames, splitting into calls of
// at most MaxIDsPerInfoRequest ids, and returns them keyed by fullname.
func (c *Client) Info(ctx context.Context, fullnames []string) (map[string]Item, error) {
	details := make(map[string]Item, len(fullnames))
	for start := 0; start < len(fullnames); start += MaxIDsPerInfoRequest {
		end := start + MaxIDsPerInfoRequest
		if end > len(fullnames) {
			end = len(fullnames)
		}
		query := url.Values{}
		query.Set("id", strings.Join(fullnames[start:end], ","))

		body, err := c.d.Get(ctx, "/api/info", query)
		if err != nil {
			return nil, fmt.Errorf("fetch detail batch: %w", err)
		}
		items, err := parseListing(body)
		if err != nil {
			return nil, fmt.Errorf("decode detail batch: %w", err)
		}
		for _, item := range items {
			if item.Fullname != "" {
				details[item.Fullname] = item
			}
		}
	}
	return details, nil
}

// CommentsOptions shape the comment tree request.
type CommentsOptions struct {
	Limit    int
	Depth    int
	Sort     string
	Truncate int
}

// Comments fetches the comment tree for a post id (id36, without the type
// prefix). The response is the service's two-element array of
// [link listing, comment listing], kept raw for output fidelity.
func (c *Client) Comments(ctx context.Context, postID string, opts CommentsOptions) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(opts.Limit))
	query.Set("depth", strconv.Itoa(opts.Depth))
	query.Set("sort", opts.Sort)
	query.Set("truncate", strconv.Itoa(opts.Truncate))

	body, err := c.d.Get(ctx, "/comments/"+postID, query)
	if err != nil {
		return nil, fmt.Errorf("fetch comments for %s: %w", postID, err)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("unexpected comments response shape for %s: %w", postID, err)
	}
	if len(elems) < 2 {
		return nil, fmt.Errorf("unexpected comments response shape for %s: %d elements", postID, len(elems))
	}
	return json.RawMessage(body), nil
}

func parseListing(body []byte) ([]Item, error) {
	var envelope struct {
		Data struct {
			Children []json.RawMessage `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(envelope.Data.Children))
	for _, raw := range envelope.Data.Children {
		var child struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &child); err != nil {
			return nil, err
		}
		var ids struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if len(child.Data) > 0 {
			if err := json.Unmarshal(child.Data, &ids); err != nil {
				return nil, err
			}
		}
		items = append(items, Item{
			Kind:     child.Kind,
			Fullname: ids.Name,
			ID:       ids.ID,
			Data:     child.Data,
			Raw:      raw,
		})
	}
	return items, nil
}
