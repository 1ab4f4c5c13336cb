package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
reddit:
  user_agent: "linux:multifeed:v1.0 (by /u/someone)"
  auth:
    client_id: id
    client_secret: secret
    refresh_token: token
custom_feed:
  multipath: /user/someone/m/mymulti
`

func TestParseAppliesDefaults(t *testing.T) {
	doc, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if doc.Fetch.Listing.Sort != "new" || doc.Fetch.Listing.Limit != 50 {
		t.Fatalf("listing defaults = %q/%d, want new/50", doc.Fetch.Listing.Sort, doc.Fetch.Listing.Limit)
	}
	if doc.Fetch.Listing.PollInterval.Std() != 60*time.Second {
		t.Fatalf("poll interval = %v, want 60s", doc.Fetch.Listing.PollInterval.Std())
	}
	if doc.Fetch.Listing.MaxSeenKeep != 2000 {
		t.Fatalf("max_seen_keep = %d, want 2000", doc.Fetch.Listing.MaxSeenKeep)
	}
	if doc.RateLimit.MaxQPM != 100 || doc.RateLimit.SafetyMinInterval.Std() != 700*time.Millisecond {
		t.Fatalf("rate limit defaults = %d/%v", doc.RateLimit.MaxQPM, doc.RateLimit.SafetyMinInterval.Std())
	}
	if doc.Network.Retries != 3 || doc.Network.Backoff.Std() != time.Second {
		t.Fatalf("network defaults = %d/%v", doc.Network.Retries, doc.Network.Backoff.Std())
	}
	if doc.Reddit.Endpoints.OAuthBase != "https://oauth.reddit.com" {
		t.Fatalf("oauth base = %q", doc.Reddit.Endpoints.OAuthBase)
	}
	if doc.Fetch.PerPost.Comments.Sort != "top" || doc.Fetch.PerPost.Comments.Depth != 5 {
		t.Fatalf("comments defaults = %+v", doc.Fetch.PerPost.Comments)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("MULTIFEED_TEST_SECRET", "expanded-secret")
	doc, err := Parse([]byte(strings.Replace(minimalYAML,
		"client_secret: secret",
		"client_secret: ${MULTIFEED_TEST_SECRET}", 1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Reddit.Auth.ClientSecret != "expanded-secret" {
		t.Fatalf("client_secret = %q, want expanded value", doc.Reddit.Auth.ClientSecret)
	}
}

func TestUnsetEnvVarFailsValidation(t *testing.T) {
	doc, err := Parse([]byte(strings.Replace(minimalYAML,
		"refresh_token: token",
		"refresh_token: ${MULTIFEED_DEFINITELY_UNSET_VAR}", 1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	err = doc.Validate()
	if err == nil || !strings.Contains(err.Error(), "refresh_token") {
		t.Fatalf("expected refresh_token to be reported missing, got %v", err)
	}
}

func TestUserAgentValidation(t *testing.T) {
	valid := []string{
		"linux:multifeed:v1.0 (by /u/someone)",
		"multifeed poller",
	}
	for _, ua := range valid {
		if err := ValidateUserAgent(ua); err != nil {
			t.Fatalf("UA %q should be accepted: %v", ua, err)
		}
	}

	invalid := []string{
		"",
		"   ",
		"python-requests/2.31.0",
		"Python-urllib/3.9",
		"Go-http-client/1.1",
		"curl/8.0.1",
		"Java/17.0.1",
		"Apache-HttpClient/4.5",
	}
	for _, ua := range invalid {
		if err := ValidateUserAgent(ua); err == nil {
			t.Fatalf("UA %q should be rejected", ua)
		}
	}
}

func TestParseCustomFeedURL(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://www.reddit.com/user/someone/m/mymulti/", "/user/someone/m/mymulti", true},
		{"https://www.reddit.com/user/someone/m/mymulti", "/user/someone/m/mymulti", true},
		{"https://old.reddit.com/user/a/m/b/", "/user/a/m/b", true},
		{"https://www.reddit.com/r/golang/", "", false},
		{"https://www.reddit.com/user/someone/", "", false},
		{"not a url at all ://", "", false},
	}
	for _, tc := range cases {
		got, err := ParseCustomFeedURL(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseCustomFeedURL(%q) = %q, %v; want %q", tc.raw, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseCustomFeedURL(%q) should fail", tc.raw)
		}
	}
}

func TestMultipathPrecedence(t *testing.T) {
	doc, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	doc.CustomFeed.URL = "https://www.reddit.com/user/other/m/othermulti/"

	got, err := doc.Multipath()
	if err != nil {
		t.Fatalf("multipath failed: %v", err)
	}
	if got != "/user/someone/m/mymulti" {
		t.Fatalf("multipath = %q, explicit multipath should win over url", got)
	}

	doc.CustomFeed.Multipath = ""
	got, err = doc.Multipath()
	if err != nil {
		t.Fatalf("multipath from url failed: %v", err)
	}
	if got != "/user/other/m/othermulti" {
		t.Fatalf("multipath = %q, want value derived from url", got)
	}
}

func TestInvalidMultipathRejected(t *testing.T) {
	doc, err := Parse([]byte(strings.Replace(minimalYAML,
		"multipath: /user/someone/m/mymulti",
		"multipath: /r/golang", 1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := doc.Validate(); err == nil {
		t.Fatalf("expected invalid multipath to fail validation")
	}
}

func TestListingLimitBounds(t *testing.T) {
	doc, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	doc.Fetch.Listing.Limit = 101
	if err := doc.Validate(); err == nil {
		t.Fatalf("limit 101 should fail validation")
	}
	doc.Fetch.Listing.Limit = 100
	if err := doc.Validate(); err != nil {
		t.Fatalf("limit 100 should pass: %v", err)
	}
}

func TestDurationParsing(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "custom_feed:", `rate_limit:
  safety_min_interval: 700ms
network:
  timeout: "45"
  backoff: 1m30s
custom_feed:`, 1)

	doc, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.RateLimit.SafetyMinInterval.Std() != 700*time.Millisecond {
		t.Fatalf("safety interval = %v, want 700ms", doc.RateLimit.SafetyMinInterval.Std())
	}
	// Bare numbers are read as seconds.
	if doc.Network.Timeout.Std() != 45*time.Second {
		t.Fatalf("timeout = %v, want 45s", doc.Network.Timeout.Std())
	}
	if doc.Network.Backoff.Std() != 90*time.Second {
		t.Fatalf("backoff = %v, want 1m30s", doc.Network.Backoff.Std())
	}
}

func TestMarkSeenOnCommentFailureDefaultsTrue(t *testing.T) {
	doc, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !doc.Fetch.PerPost.MarkSeenOnCommentFailureValue() {
		t.Fatalf("policy should default to marking failed items seen")
	}

	doc, err = Parse([]byte(minimalYAML + `
fetch:
  per_post:
    mark_seen_on_comment_failure: false
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Fetch.PerPost.MarkSeenOnCommentFailureValue() {
		t.Fatalf("explicit false should disable the policy")
	}
}

func TestEnvOverlayWritesSecrets(t *testing.T) {
	doc, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	env := EnvConfig{
		ClientID:     "env-id",
		RefreshToken: "env-token",
	}
	env.Overlay(doc)

	if doc.Reddit.Auth.ClientID != "env-id" {
		t.Fatalf("client_id = %q, want env value", doc.Reddit.Auth.ClientID)
	}
	if doc.Reddit.Auth.RefreshToken != "env-token" {
		t.Fatalf("refresh_token = %q, want env value", doc.Reddit.Auth.RefreshToken)
	}
	// Unset env fields leave document values alone.
	if doc.Reddit.Auth.ClientSecret != "secret" {
		t.Fatalf("client_secret = %q, want document value", doc.Reddit.Auth.ClientSecret)
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	env := LoadEnv()
	if env.ConfigPath != "multifeed.yaml" {
		t.Fatalf("config path = %q, want multifeed.yaml", env.ConfigPath)
	}
	if env.OTel.Protocol != "grpc" || env.OTel.SampleRatio != 1.0 {
		t.Fatalf("otel defaults = %+v", env.OTel)
	}
}
