// Package github implements the Source Adapter Contract against the GitHub
// REST API via google/go-github, discovering repositories from an
// organization and extracting pull requests, commits, reviews, and comments
// page by page.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
)

// credentials is the shape Integration.Credentials decodes to for GitHub: a
// personal access token, an opaque encrypted blob --
// no interactive OAuth flow is involved.
type credentials struct {
	Token string `json:"token"`
}

// Adapter implements interfaces.SourceAdapter for GitHub.
type Adapter struct {
	logger arbor.ILogger
}

func NewAdapter(logger arbor.ILogger) *Adapter {
	return &Adapter{logger: logger}
}

var _ interfaces.SourceAdapter = (*Adapter)(nil)

func (a *Adapter) SupportedEntities() []string {
	return []string{"pull_requests", "commits", "reviews", "comments"}
}

// Discover lists every repository in the configured organization. GitHub has
// no analogue to Jira's custom-field/issue-type catalog, so those fields of
// the result are always empty.
func (a *Adapter) Discover(ctx context.Context, integration *models.Integration) (*interfaces.DiscoverResult, error) {
	org, _ := integration.Settings["organization"].(string)
	if org == "" {
		return nil, fmt.Errorf("github integration %s missing settings.organization", integration.ID)
	}

	client, err := a.client(integration)
	if err != nil {
		return nil, err
	}

	var repos []string
	opts := &github.RepositoryListByOrgOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		page, resp, err := client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories for org %s: %w", org, err)
		}
		for _, repo := range page {
			repos = append(repos, repo.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return &interfaces.DiscoverResult{Containers: repos}, nil
}

func (a *Adapter) Extract(ctx context.Context, integration *models.Integration, entityType, container, cursor string, batchSize int) (*interfaces.ExtractPage, error) {
	org, _ := integration.Settings["organization"].(string)
	if org == "" {
		return nil, fmt.Errorf("github integration %s missing settings.organization", integration.ID)
	}

	client, err := a.client(integration)
	if err != nil {
		return nil, err
	}

	switch entityType {
	case "pull_requests":
		return a.extractPullRequests(ctx, client, org, container, cursor, batchSize)
	case "commits":
		return a.extractCommits(ctx, client, org, container, cursor, batchSize)
	case "reviews":
		return a.extractPerPullRequest(ctx, client, org, container, cursor, batchSize, a.fetchReviews(client, org, container))
	case "comments":
		return a.extractPerPullRequest(ctx, client, org, container, cursor, batchSize, a.fetchComments(client, org, container))
	default:
		return nil, fmt.Errorf("github adapter does not support entity type %q", entityType)
	}
}

// extractPullRequests pulls one page of a repo's pull requests, paginating
// via GitHub's page-number cursor. Pull requests are the root of the graph
// this adapter extracts, so they carry no parent external id.
func (a *Adapter) extractPullRequests(ctx context.Context, client *github.Client, org, repo, cursor string, batchSize int) (*interfaces.ExtractPage, error) {
	page := 1
	if cursor != "" {
		var err error
		page, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid github cursor %q: %w", cursor, err)
		}
	}

	prs, nextPage, err := a.listPullRequestPage(ctx, client, org, repo, page, batchSize)
	if err != nil {
		return nil, err
	}

	items := make([]interfaces.ExtractedItem, 0, len(prs))
	for _, pr := range prs {
		payload, err := json.Marshal(pr)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pull request %d: %w", pr.GetNumber(), err)
		}
		items = append(items, interfaces.ExtractedItem{
			ExternalID: strconv.Itoa(pr.GetNumber()),
			EntityType: "pull_request",
			Payload:    payload,
		})
	}

	nextCursor := ""
	if nextPage != 0 {
		nextCursor = strconv.Itoa(nextPage)
	}
	return &interfaces.ExtractPage{Items: items, NextCursor: nextCursor}, nil
}

// extractCommits pulls one page of a repo's commits. Commits are repo-level
// like pull requests rather than scoped to one, so they paginate the same
// simple page-number cursor and carry no parent external id.
func (a *Adapter) extractCommits(ctx context.Context, client *github.Client, org, repo, cursor string, batchSize int) (*interfaces.ExtractPage, error) {
	page := 1
	if cursor != "" {
		var err error
		page, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid github cursor %q: %w", cursor, err)
		}
	}

	opts := &github.CommitsListOptions{ListOptions: github.ListOptions{Page: page, PerPage: batchSize}}
	commits, resp, err := client.Repositories.ListCommits(ctx, org, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for %s/%s: %w", org, repo, err)
	}

	items := make([]interfaces.ExtractedItem, 0, len(commits))
	for _, commit := range commits {
		payload, err := json.Marshal(commit)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal commit %s: %w", commit.GetSHA(), err)
		}
		items = append(items, interfaces.ExtractedItem{
			ExternalID: commit.GetSHA(),
			EntityType: "commit",
			Payload:    payload,
		})
	}

	nextCursor := ""
	if resp.NextPage != 0 {
		nextCursor = strconv.Itoa(resp.NextPage)
	}
	return &interfaces.ExtractPage{Items: items, NextCursor: nextCursor}, nil
}

// subCursor resumes a per-pull-request listing (reviews, comments): which
// page of the repo's pull request list, which pull request within that
// page, and which page of that pull request's own item list.
type subCursor struct {
	PRPage   int `json:"pr_page"`
	PRIndex  int `json:"pr_index"`
	ItemPage int `json:"item_page"`
}

func decodeSubCursor(cursor string) subCursor {
	if cursor == "" {
		return subCursor{PRPage: 1, PRIndex: 0, ItemPage: 1}
	}
	var c subCursor
	if err := json.Unmarshal([]byte(cursor), &c); err != nil {
		return subCursor{PRPage: 1, PRIndex: 0, ItemPage: 1}
	}
	return c
}

func (c subCursor) marshal() string {
	data, _ := json.Marshal(c)
	return string(data)
}

// perPRFetcher lists one page of a single pull request's items (reviews or
// comments), returning the next item page (0 if exhausted).
type perPRFetcher func(ctx context.Context, prNumber, itemPage, batchSize int) ([]interfaces.ExtractedItem, int, error)

// extractPerPullRequest drives the reviews/comments pagination scheme: walk
// the repo's pull requests page by page, and within each pull request walk
// its own items page by page before advancing to the next pull request.
func (a *Adapter) extractPerPullRequest(ctx context.Context, client *github.Client, org, repo, cursor string, batchSize int, fetch perPRFetcher) (*interfaces.ExtractPage, error) {
	cur := decodeSubCursor(cursor)
	prs, nextPRPage, err := a.listPullRequestPage(ctx, client, org, repo, cur.PRPage, batchSize)
	if err != nil {
		return nil, err
	}
	for cur.PRIndex >= len(prs) {
		if nextPRPage == 0 {
			return &interfaces.ExtractPage{NextCursor: ""}, nil
		}
		cur = subCursor{PRPage: nextPRPage, PRIndex: 0, ItemPage: 1}
		prs, nextPRPage, err = a.listPullRequestPage(ctx, client, org, repo, cur.PRPage, batchSize)
		if err != nil {
			return nil, err
		}
	}

	pr := prs[cur.PRIndex]
	items, nextItemPage, err := fetch(ctx, pr.GetNumber(), cur.ItemPage, batchSize)
	if err != nil {
		return nil, err
	}

	var next *subCursor
	switch {
	case nextItemPage != 0:
		next = &subCursor{PRPage: cur.PRPage, PRIndex: cur.PRIndex, ItemPage: nextItemPage}
	case cur.PRIndex+1 < len(prs):
		next = &subCursor{PRPage: cur.PRPage, PRIndex: cur.PRIndex + 1, ItemPage: 1}
	case nextPRPage != 0:
		next = &subCursor{PRPage: nextPRPage, PRIndex: 0, ItemPage: 1}
	}
	nextCursor := ""
	if next != nil {
		nextCursor = next.marshal()
	}
	return &interfaces.ExtractPage{Items: items, NextCursor: nextCursor}, nil
}

func (a *Adapter) fetchReviews(client *github.Client, org, repo string) perPRFetcher {
	return func(ctx context.Context, prNumber, itemPage, batchSize int) ([]interfaces.ExtractedItem, int, error) {
		opts := &github.ListOptions{Page: itemPage, PerPage: batchSize}
		reviews, resp, err := client.PullRequests.ListReviews(ctx, org, repo, prNumber, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list reviews for %s/%s#%d: %w", org, repo, prNumber, err)
		}
		items := make([]interfaces.ExtractedItem, 0, len(reviews))
		for _, rv := range reviews {
			payload, err := json.Marshal(rv)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to marshal review %d: %w", rv.GetID(), err)
			}
			items = append(items, interfaces.ExtractedItem{
				ExternalID:       strconv.FormatInt(rv.GetID(), 10),
				EntityType:       "review",
				ParentExternalID: strconv.Itoa(prNumber),
				Payload:          payload,
			})
		}
		return items, resp.NextPage, nil
	}
}

func (a *Adapter) fetchComments(client *github.Client, org, repo string) perPRFetcher {
	return func(ctx context.Context, prNumber, itemPage, batchSize int) ([]interfaces.ExtractedItem, int, error) {
		opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{Page: itemPage, PerPage: batchSize}}
		comments, resp, err := client.Issues.ListComments(ctx, org, repo, prNumber, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list comments for %s/%s#%d: %w", org, repo, prNumber, err)
		}
		items := make([]interfaces.ExtractedItem, 0, len(comments))
		for _, c := range comments {
			payload, err := json.Marshal(c)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to marshal comment %d: %w", c.GetID(), err)
			}
			items = append(items, interfaces.ExtractedItem{
				ExternalID:       strconv.FormatInt(c.GetID(), 10),
				EntityType:       "comment",
				ParentExternalID: strconv.Itoa(prNumber),
				Payload:          payload,
			})
		}
		return items, resp.NextPage, nil
	}
}

func (a *Adapter) listPullRequestPage(ctx context.Context, client *github.Client, org, repo string, page, perPage int) ([]*github.PullRequest, int, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	prs, resp, err := client.PullRequests.List(ctx, org, repo, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pull requests for %s/%s: %w", org, repo, err)
	}
	return prs, resp.NextPage, nil
}

func (a *Adapter) client(integration *models.Integration) (*github.Client, error) {
	var creds credentials
	if err := json.Unmarshal(integration.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode github credentials for integration %s: %w", integration.ID, err)
	}
	return github.NewClient(nil).WithAuthToken(creds.Token), nil
}
