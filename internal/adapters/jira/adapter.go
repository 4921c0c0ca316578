// Package jira implements the Source Adapter Contract against the Jira
// Cloud REST API, paginating with startAt/maxResults rather than scraping
// rendered pages.
package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/httpclient"
	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// credentials is the shape Integration.Credentials decodes to for Jira: an
// email + API token pair, Basic-auth encoded per Atlassian's documented
// REST authentication scheme.
type credentials struct {
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}

// Adapter implements interfaces.SourceAdapter for Jira.
type Adapter struct {
	logger arbor.ILogger
}

func NewAdapter(logger arbor.ILogger) *Adapter {
	return &Adapter{logger: logger}
}

var _ interfaces.SourceAdapter = (*Adapter)(nil)

func (a *Adapter) SupportedEntities() []string {
	return []string{"issues"}
}

// Discover returns the configured project keys, plus the custom-field and
// issue-type catalog Jira reports for the whole site (these endpoints are
// not project-scoped; the discovery step's caller attributes the same
// catalog to every discovered container).
func (a *Adapter) Discover(ctx context.Context, integration *models.Integration) (*interfaces.DiscoverResult, error) {
	keys, err := projectKeys(integration)
	if err != nil {
		return nil, err
	}

	baseURL, _ := integration.Settings["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("jira integration %s missing settings.base_url", integration.ID)
	}
	creds, err := decodeCredentials(integration.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decode jira credentials for integration %s: %w", integration.ID, err)
	}
	client := httpclient.NewTokenAuthClient("Basic", basicAuthToken(creds), httpclient.DefaultTimeout)

	fields, err := fetchCustomFields(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover custom fields for integration %s: %w", integration.ID, err)
	}
	issueTypes, err := fetchIssueTypes(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issue types for integration %s: %w", integration.ID, err)
	}

	return &interfaces.DiscoverResult{
		Containers:   keys,
		CustomFields: fields,
		IssueTypes:   issueTypes,
	}, nil
}

// projectKeys reads the configured project keys. Unlike GitHub's org/repo
// discovery, Jira integrations are expected to name their projects
// explicitly in Settings["project_keys"], since a Jira Cloud site can host
// projects the integration has no interest in indexing.
func projectKeys(integration *models.Integration) ([]string, error) {
	raw, ok := integration.Settings["project_keys"]
	if !ok {
		return nil, fmt.Errorf("jira integration %s missing settings.project_keys", integration.ID)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("jira integration %s settings.project_keys must be an array of strings", integration.ID)
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		key, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("jira integration %s settings.project_keys contains a non-string entry", integration.ID)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func fetchCustomFields(ctx context.Context, client *http.Client, baseURL string) ([]interfaces.CustomFieldInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/rest/api/3/field", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build field metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("field metadata request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("field metadata endpoint returned status %d", resp.StatusCode)
	}

	var fields []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Custom bool   `json:"custom"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode field metadata response: %w", err)
	}

	result := make([]interfaces.CustomFieldInfo, 0, len(fields))
	for _, f := range fields {
		if !f.Custom {
			continue
		}
		result = append(result, interfaces.CustomFieldInfo{ID: f.ID, Name: f.Name})
	}
	return result, nil
}

func fetchIssueTypes(ctx context.Context, client *http.Client, baseURL string) ([]interfaces.IssueTypeInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/rest/api/3/issuetype", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build issue type request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issue type request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issue type endpoint returned status %d", resp.StatusCode)
	}

	var types []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&types); err != nil {
		return nil, fmt.Errorf("failed to decode issue type response: %w", err)
	}

	result := make([]interfaces.IssueTypeInfo, 0, len(types))
	for _, t := range types {
		result = append(result, interfaces.IssueTypeInfo{ID: t.ID, Name: t.Name})
	}
	return result, nil
}

func (a *Adapter) Extract(ctx context.Context, integration *models.Integration, entityType, container, cursor string, batchSize int) (*interfaces.ExtractPage, error) {
	if entityType != "issues" {
		return nil, fmt.Errorf("jira adapter does not support entity type %q", entityType)
	}

	baseURL, _ := integration.Settings["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("jira integration %s missing settings.base_url", integration.ID)
	}

	creds, err := decodeCredentials(integration.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decode jira credentials for integration %s: %w", integration.ID, err)
	}

	startAt := 0
	if cursor != "" {
		startAt, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid jira cursor %q: %w", cursor, err)
		}
	}

	client := httpclient.NewTokenAuthClient("Basic", basicAuthToken(creds), httpclient.DefaultTimeout)

	jql := fmt.Sprintf("project=%s ORDER BY updated ASC", container)
	url := fmt.Sprintf("%s/rest/api/3/search?jql=%s&startAt=%d&maxResults=%d",
		baseURL, jql, startAt, batchSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jira search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira search returned status %d for project %s", resp.StatusCode, container)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode jira search response: %w", err)
	}

	items := make([]interfaces.ExtractedItem, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		// Flatten fields to the top level so customfield_* keys are directly
		// visible to the transform worker's slot/overflow mapping, instead
		// of nested under a "fields" object.
		flattened := make(map[string]interface{}, len(issue.Fields)+2)
		for k, v := range issue.Fields {
			flattened[k] = v
		}
		flattened["id"] = issue.ID
		flattened["key"] = issue.Key

		payload, err := json.Marshal(flattened)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jira issue %s: %w", issue.Key, err)
		}
		items = append(items, interfaces.ExtractedItem{
			ExternalID: issue.Key,
			EntityType: "issue",
			Payload:    payload,
		})
	}

	nextStartAt := startAt + len(parsed.Issues)
	nextCursor := ""
	if nextStartAt < parsed.Total {
		nextCursor = strconv.Itoa(nextStartAt)
	}

	return &interfaces.ExtractPage{Items: items, NextCursor: nextCursor}, nil
}

type searchResponse struct {
	Total  int         `json:"total"`
	Issues []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	ID     string                 `json:"id"`
	Key    string                 `json:"key"`
	Fields map[string]interface{} `json:"fields"`
}

func decodeCredentials(blob []byte) (*credentials, error) {
	var creds credentials
	if err := json.Unmarshal(blob, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &creds, nil
}

func basicAuthToken(creds *credentials) string {
	return base64.StdEncoding.EncodeToString([]byte(creds.Email + ":" + creds.APIToken))
}
