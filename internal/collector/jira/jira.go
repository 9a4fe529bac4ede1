// Package jira collects issues from Jira Cloud via REST API v3.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digestd/internal/collector"
	"digestd/internal/storage"
)

// SourceType is the registry tag for Jira sources.
const SourceType = "jira"

const (
	defaultMaxResults = 50
	pageSize          = 50
	searchFields      = "summary,status,priority,assignee,reporter,created,updated,issuetype,project"
)

// Register binds the Jira collector factory into a registry.
func Register(r *collector.Registry) {
	r.Register(SourceType, func() collector.Collector { return New() })
}

// Collector fetches Jira issues with Basic auth (email + API token).
//
// Credentials: {"url": "...atlassian.net", "email": "...", "api_token": "..."}.
// Config: {"jql": "optional custom JQL", "max_results": 50}.
type Collector struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Jira collector with the shared HTTP client settings.
func New() *Collector {
	return &Collector{
		client: collector.NewHTTPClient(),
		logger: slog.Default(),
	}
}

// SourceType implements collector.Collector.
func (c *Collector) SourceType() string { return SourceType }

type creds struct {
	baseURL  string
	email    string
	apiToken string
}

func parseCreds(credentials map[string]any) (creds, error) {
	cr := creds{
		baseURL:  strings.TrimRight(stringField(credentials, "url"), "/"),
		email:    stringField(credentials, "email"),
		apiToken: stringField(credentials, "api_token"),
	}
	if cr.baseURL == "" || cr.email == "" || cr.apiToken == "" {
		return creds{}, collector.ConfigError("missing required credentials: url, email, api_token")
	}
	return cr, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Collect implements collector.Collector.
func (c *Collector) Collect(ctx context.Context, sourceID string, credentials, config map[string]any, since time.Time) ([]storage.Item, error) {
	log := c.logger.With("source_id", sourceID, "source_type", SourceType)

	cr, err := parseCreds(credentials)
	if err != nil {
		return nil, err
	}

	jql := buildJQL(config, collector.Since(since))
	maxResults := defaultMaxResults
	if v, ok := config["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	log.Debug("fetching issues", "jql", jql, "max_results", maxResults)

	issues, err := c.searchIssues(ctx, cr, jql, maxResults)
	if err != nil {
		return nil, err
	}

	items := make([]storage.Item, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issueToItem(sourceID, cr.baseURL, issue))
	}

	log.Info("jira collection completed", "issue_count", len(items))
	return items, nil
}

// ValidateCredentials checks access by fetching the current user.
func (c *Collector) ValidateCredentials(ctx context.Context, credentials map[string]any) (bool, error) {
	cr, err := parseCreds(credentials)
	if err != nil {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cr.baseURL+"/rest/api/3/myself", nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(cr.email, cr.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("jira credential validation failed", "error", err)
		return false, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func buildJQL(config map[string]any, since time.Time) string {
	sinceStr := since.Format("2006-01-02 15:04")

	if custom := stringField(config, "jql"); custom != "" {
		if !strings.Contains(strings.ToLower(custom), "updated") {
			return fmt.Sprintf("(%s) AND updated >= '%s'", custom, sinceStr)
		}
		return custom
	}

	return fmt.Sprintf("assignee = currentUser() AND updated >= '%s' ORDER BY updated DESC", sinceStr)
}

type searchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

type jiraFields struct {
	Summary   string     `json:"summary"`
	Status    *namedItem `json:"status"`
	Priority  *namedItem `json:"priority"`
	IssueType *namedItem `json:"issuetype"`
	Project   *namedItem `json:"project"`
	Assignee  *jiraUser  `json:"assignee"`
	Reporter  *jiraUser  `json:"reporter"`
	Created   string     `json:"created"`
	Updated   string     `json:"updated"`
}

type namedItem struct {
	Name string `json:"name"`
}

type jiraUser struct {
	DisplayName string `json:"displayName"`
}

// searchIssues pages through /search with startAt until maxResults issues are
// collected or the result set is exhausted.
func (c *Collector) searchIssues(ctx context.Context, cr creds, jql string, maxResults int) ([]jiraIssue, error) {
	var issues []jiraIssue

	for startAt := 0; len(issues) < maxResults; {
		page, err := c.searchPage(ctx, cr, jql, startAt, min(pageSize, maxResults-len(issues)))
		if err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	if len(issues) > maxResults {
		issues = issues[:maxResults]
	}
	return issues, nil
}

func (c *Collector) searchPage(ctx context.Context, cr creds, jql string, startAt, limit int) (searchResponse, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", fmt.Sprint(startAt))
	q.Set("maxResults", fmt.Sprint(limit))
	q.Set("fields", searchFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cr.baseURL+"/rest/api/3/search?"+q.Encode(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("building search request: %w", err)
	}
	req.SetBasicAuth(cr.email, cr.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return searchResponse{}, collector.NetworkError("jira search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return searchResponse{}, collector.AuthError("invalid jira credentials")
	}
	if err := collector.CheckResponse(resp, "jira api"); err != nil {
		return searchResponse{}, err
	}

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return searchResponse{}, fmt.Errorf("decoding search response: %w", err)
	}
	return page, nil
}

func issueToItem(sourceID, baseURL string, issue jiraIssue) storage.Item {
	f := issue.Fields

	content := map[string]any{
		"key":    issue.Key,
		"status": named(f.Status),
	}
	if f.Priority != nil {
		content["priority"] = f.Priority.Name
	}
	if f.Assignee != nil {
		content["assignee"] = f.Assignee.DisplayName
	}
	if f.Reporter != nil {
		content["reporter"] = f.Reporter.DisplayName
	}

	metadata := map[string]any{
		"issue_type": named(f.IssueType),
		"project":    named(f.Project),
	}

	createdAt := parseJiraTime(f.Created)
	updatedAt := parseJiraTime(f.Updated)

	return collector.NewItem(
		sourceID,
		issue.Key,
		storage.ItemIssue,
		fmt.Sprintf("%s: %s", issue.Key, f.Summary),
		content,
		metadata,
		baseURL+"/browse/"+issue.Key,
		createdAt,
		updatedAt,
	)
}

func named(n *namedItem) string {
	if n == nil {
		return ""
	}
	return n.Name
}

// parseJiraTime handles Jira's RFC3339-with-offset timestamps, e.g.
// 2026-02-01T12:30:00.000+0100.
func parseJiraTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
