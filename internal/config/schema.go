// Package config defines the multifeed YAML document, its validation rules,
// and the environment overlay used for secrets and operational toggles.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// multipathPattern matches /user/{username}/m/{multiname}.
var multipathPattern = regexp.MustCompile(`^/user/([^/]+)/m/([^/]+)$`)

// invalidUserAgentPatterns are default library User-Agents the wrapped API
// rejects or throttles aggressively. A descriptive UA is mandatory.
var invalidUserAgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^python-requests/`),
	regexp.MustCompile(`(?i)^Python-urllib/`),
	regexp.MustCompile(`(?i)^Java/`),
	regexp.MustCompile(`(?i)^Apache-HttpClient/`),
	regexp.MustCompile(`(?i)^Go-http-client/`),
	regexp.MustCompile(`(?i)^curl/`),
}

// Document is the top-level structure of a multifeed.yaml file.
type Document struct {
	Reddit     RedditConfig     `yaml:"reddit"`
	CustomFeed CustomFeedConfig `yaml:"custom_feed"`
	Fetch      FetchConfig      `yaml:"fetch"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Network    NetworkConfig    `yaml:"network"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type RedditConfig struct {
	UserAgent string          `yaml:"user_agent"`
	Endpoints RedditEndpoints `yaml:"endpoints"`
	Auth      RedditAuth      `yaml:"auth"`
}

type RedditEndpoints struct {
	WWWBase   string `yaml:"www_base"`
	OAuthBase string `yaml:"oauth_base"`
}

type RedditAuth struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// CustomFeedConfig identifies the multireddit to poll, either by its web URL
// or directly by multipath. When both are present the multipath wins.
type CustomFeedConfig struct {
	URL       string `yaml:"url,omitempty"`
	Multipath string `yaml:"multipath,omitempty"`
}

type FetchConfig struct {
	Listing ListingConfig `yaml:"listing"`
	PerPost PerPostConfig `yaml:"per_post"`
}

type ListingConfig struct {
	Sort         string   `yaml:"sort,omitempty"`
	Limit        int      `yaml:"limit,omitempty"`
	PollInterval Duration `yaml:"poll_interval,omitempty"`
	// Cron, when set, drives continuous mode instead of the fixed interval.
	Cron        string `yaml:"cron,omitempty"`
	MaxSeenKeep int    `yaml:"max_seen_keep,omitempty"`
}

type PerPostConfig struct {
	FetchPostDetail bool `yaml:"fetch_post_detail"`
	FetchComments   bool `yaml:"fetch_comments"`
	// MarkSeenOnCommentFailure controls whether an item whose comment fetch
	// failed is still recorded as seen. Leaving it unseen retries the item
	// next cycle but can stall forever on a permanently broken item.
	MarkSeenOnCommentFailure *bool          `yaml:"mark_seen_on_comment_failure,omitempty"`
	Comments                 CommentsConfig `yaml:"comments"`
}

type CommentsConfig struct {
	Limit    int    `yaml:"limit,omitempty"`
	Depth    int    `yaml:"depth,omitempty"`
	Sort     string `yaml:"sort,omitempty"`
	Truncate int    `yaml:"truncate,omitempty"`
}

type RateLimitConfig struct {
	MaxQPM                 int      `yaml:"max_qpm,omitempty"`
	RespectResponseHeaders *bool    `yaml:"respect_response_headers,omitempty"`
	SafetyMinInterval      Duration `yaml:"safety_min_interval,omitempty"`
}

type NetworkConfig struct {
	Timeout    Duration `yaml:"timeout,omitempty"`
	Retries    int      `yaml:"retries,omitempty"`
	Backoff    Duration `yaml:"backoff,omitempty"`
	MaxBackoff Duration `yaml:"max_backoff,omitempty"`
	Jitter     Duration `yaml:"jitter,omitempty"`
	Proxy      string   `yaml:"proxy,omitempty"`
}

type StorageConfig struct {
	StateFile  string           `yaml:"state_file,omitempty"`
	PostsDir   string           `yaml:"posts_dir,omitempty"`
	Compliance ComplianceConfig `yaml:"compliance"`
}

type ComplianceConfig struct {
	PurgeDeletedContent bool     `yaml:"purge_deleted_content"`
	PurgeInterval       Duration `yaml:"purge_interval,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Load reads a config document from path, expanding ${VAR} references and
// applying defaults. Call Validate after overlaying the environment.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document from raw yaml bytes and applies defaults.
// Validation is separate so the environment overlay can fill in secrets
// first.
func Parse(data []byte) (*Document, error) {
	expanded := expandEnvVars(string(data))
	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	doc.applyDefaults()
	return &doc, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars substitutes ${VAR} references. Unset variables are left as-is
// so validation can report them instead of silently blanking a secret.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func (d *Document) applyDefaults() {
	if d.Reddit.Endpoints.WWWBase == "" {
		d.Reddit.Endpoints.WWWBase = "https://www.reddit.com"
	}
	if d.Reddit.Endpoints.OAuthBase == "" {
		d.Reddit.Endpoints.OAuthBase = "https://oauth.reddit.com"
	}
	if d.Fetch.Listing.Sort == "" {
		d.Fetch.Listing.Sort = "new"
	}
	if d.Fetch.Listing.Limit == 0 {
		d.Fetch.Listing.Limit = 50
	}
	if d.Fetch.Listing.PollInterval == 0 {
		d.Fetch.Listing.PollInterval = Duration(60 * time.Second)
	}
	if d.Fetch.Listing.MaxSeenKeep == 0 {
		d.Fetch.Listing.MaxSeenKeep = 2000
	}
	if d.Fetch.PerPost.Comments.Limit == 0 {
		d.Fetch.PerPost.Comments.Limit = 50
	}
	if d.Fetch.PerPost.Comments.Depth == 0 {
		d.Fetch.PerPost.Comments.Depth = 5
	}
	if d.Fetch.PerPost.Comments.Sort == "" {
		d.Fetch.PerPost.Comments.Sort = "top"
	}
	if d.Fetch.PerPost.Comments.Truncate == 0 {
		d.Fetch.PerPost.Comments.Truncate = 50
	}
	if d.RateLimit.MaxQPM == 0 {
		d.RateLimit.MaxQPM = 100
	}
	if d.RateLimit.SafetyMinInterval == 0 {
		d.RateLimit.SafetyMinInterval = Duration(700 * time.Millisecond)
	}
	if d.Network.Timeout == 0 {
		d.Network.Timeout = Duration(30 * time.Second)
	}
	if d.Network.Retries == 0 {
		d.Network.Retries = 3
	}
	if d.Network.Backoff == 0 {
		d.Network.Backoff = Duration(time.Second)
	}
	if d.Network.MaxBackoff == 0 {
		d.Network.MaxBackoff = Duration(60 * time.Second)
	}
	if d.Network.Jitter == 0 {
		d.Network.Jitter = Duration(250 * time.Millisecond)
	}
	if d.Storage.StateFile == "" {
		d.Storage.StateFile = "./data/state.json"
	}
	if d.Storage.PostsDir == "" {
		d.Storage.PostsDir = "./data/posts"
	}
	if d.Storage.Compliance.PurgeInterval == 0 {
		d.Storage.Compliance.PurgeInterval = Duration(24 * time.Hour)
	}
	if d.Logging.Level == "" {
		d.Logging.Level = "info"
	}
	if d.Logging.Format == "" {
		d.Logging.Format = "json"
	}
}

// Validate checks the document for the errors worth failing fast on.
func (d *Document) Validate() error {
	if err := ValidateUserAgent(d.Reddit.UserAgent); err != nil {
		return err
	}
	if _, err := d.Multipath(); err != nil {
		return err
	}
	var missing []string
	if d.Reddit.Auth.ClientID == "" || strings.HasPrefix(d.Reddit.Auth.ClientID, "${") {
		missing = append(missing, "client_id")
	}
	if d.Reddit.Auth.ClientSecret == "" || strings.HasPrefix(d.Reddit.Auth.ClientSecret, "${") {
		missing = append(missing, "client_secret")
	}
	if d.Reddit.Auth.RefreshToken == "" || strings.HasPrefix(d.Reddit.Auth.RefreshToken, "${") {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required auth credentials: %s", strings.Join(missing, ", "))
	}
	if d.Fetch.Listing.Limit < 1 || d.Fetch.Listing.Limit > 100 {
		return fmt.Errorf("fetch.listing.limit must be between 1 and 100, got %d", d.Fetch.Listing.Limit)
	}
	if d.Fetch.Listing.MaxSeenKeep < 1 {
		return fmt.Errorf("fetch.listing.max_seen_keep must be positive")
	}
	if d.RateLimit.MaxQPM < 1 {
		return fmt.Errorf("rate_limit.max_qpm must be positive")
	}
	return nil
}

// Multipath resolves the configured multipath, deriving it from the custom
// feed URL when only the URL is given.
func (d *Document) Multipath() (string, error) {
	if d.CustomFeed.Multipath != "" {
		if !multipathPattern.MatchString(d.CustomFeed.Multipath) {
			return "", fmt.Errorf("invalid multipath %q: must match /user/{username}/m/{multiname}", d.CustomFeed.Multipath)
		}
		return d.CustomFeed.Multipath, nil
	}
	if d.CustomFeed.URL == "" {
		return "", fmt.Errorf("custom_feed.url or custom_feed.multipath is required")
	}
	return ParseCustomFeedURL(d.CustomFeed.URL)
}

// ParseCustomFeedURL extracts the multipath from a custom feed web URL like
// https://www.reddit.com/user/someone/m/mymulti/.
func ParseCustomFeedURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse custom feed url: %w", err)
	}
	path := strings.TrimRight(u.Path, "/")
	if !multipathPattern.MatchString(path) {
		return "", fmt.Errorf("cannot parse custom feed url %q: expected https://www.reddit.com/user/{username}/m/{multiname}/", raw)
	}
	return path, nil
}

// ValidateUserAgent rejects empty values and default library User-Agents.
func ValidateUserAgent(ua string) error {
	if strings.TrimSpace(ua) == "" {
		return fmt.Errorf("reddit.user_agent is required and cannot be empty")
	}
	for _, pattern := range invalidUserAgentPatterns {
		if pattern.MatchString(ua) {
			return fmt.Errorf("invalid user_agent %q: a unique, descriptive User-Agent is required; default library UAs are rejected", ua)
		}
	}
	return nil
}

// MarkSeenOnCommentFailureValue returns the configured policy, defaulting to true
// so a single permanently broken item cannot wedge the poll loop.
func (p PerPostConfig) MarkSeenOnCommentFailureValue() bool {
	if p.MarkSeenOnCommentFailure == nil {
		return true
	}
	return *p.MarkSeenOnCommentFailure
}
