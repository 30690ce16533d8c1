package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// Project board status names understood by UpdateProjectStatus.
const (
	ProjectStatusBacklog    = "Backlog"
	ProjectStatusInProgress = "In Progress"
	ProjectStatusInReview   = "In Review"
	ProjectStatusReady      = "Ready"
	ProjectStatusDone       = "Done"
)

// ErrNoToken is returned when a remote client is requested without a token.
var ErrNoToken = errors.New("GitHub token not set")

// IssueQuery filters ListIssues.
type IssueQuery struct {
	State  string
	Labels []string
}

// PullRequestInput describes a pull request to open.
type PullRequestInput struct {
	Head  string
	Base  string
	Title string
	Body  string
}

// PullRequest is the subset of a created pull request the tool reports.
type PullRequest struct {
	Number int
	URL    string
}

// RemoteClient is the GitHub surface used for sync and status updates.
type RemoteClient interface {
	ListIssues(ctx context.Context, q IssueQuery) ([]models.RemoteIssueSnapshot, error)
	CreatePullRequest(ctx context.Context, in PullRequestInput) (*PullRequest, error)
	UpdateProjectStatus(ctx context.Context, projectNumber, issueNumber int, status string) error
}

// GitHubClientOptions tunes the remote client.
type GitHubClientOptions struct {
	// BaseURL overrides the API endpoint. Must end with a slash.
	BaseURL string
	// RatePerSec caps request rate. Zero means 5 requests per second.
	RatePerSec float64
	Retry      *RetryConfig
	Logger     *zap.Logger
}

type githubClient struct {
	client  *github.Client
	owner   string
	repo    string
	limiter *rate.Limiter
	retry   *RetryConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewGitHubClient creates a RemoteClient for owner/repo authenticated with token.
func NewGitHubClient(ctx context.Context, token, owner, repo string, opts GitHubClientOptions) (RemoteClient, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("creating GitHub client: owner and repo are required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating GitHub client: parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &githubClient{
		client:  client,
		owner:   owner,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		retry:   opts.Retry,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// do paces and retries a single API call. A final error response is
// returned as *APIError.
func (c *githubClient) do(ctx context.Context, op func() (*github.Response, error)) (*github.Response, error) {
	resp, err := retryGitHubOperation(ctx, c.retry, c.logger, func() (*github.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return op()
	})
	if err == nil {
		return resp, nil
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return resp, err
	}
	if code := getStatusCode(resp); code != 0 {
		return resp, &APIError{StatusCode: code, Err: err}
	}
	return resp, err
}

// ListIssues returns every issue matching q, following pagination.
// Pull requests are skipped.
func (c *githubClient) ListIssues(ctx context.Context, q IssueQuery) ([]models.RemoteIssueSnapshot, error) {
	state := q.State
	if state == "" {
		state = "open"
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      q.Labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []models.RemoteIssueSnapshot
	for {
		var page []*github.Issue
		resp, err := c.do(ctx, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			page, resp, err = c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing issues for %s/%s: %w", c.owner, c.repo, err)
		}

		syncedAt := c.now().UTC()
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.GetName())
			}
			out = append(out, models.RemoteIssueSnapshot{
				Number:   issue.GetNumber(),
				Title:    issue.GetTitle(),
				State:    issue.GetState(),
				Labels:   labels,
				Body:     issue.GetBody(),
				SyncedAt: syncedAt,
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreatePullRequest opens a pull request from in.Head into in.Base.
func (c *githubClient) CreatePullRequest(ctx context.Context, in PullRequestInput) (*PullRequest, error) {
	newPR := &github.NewPullRequest{
		Title: github.String(in.Title),
		Head:  github.String(in.Head),
		Base:  github.String(in.Base),
		Body:  github.String(in.Body),
	}
	var pr *github.PullRequest
	_, err := c.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.client.PullRequests.Create(ctx, c.owner, c.repo, newPR)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request for %s: %w", in.Head, err)
	}
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql executes a GraphQL document and decodes its data into out.
func (c *githubClient) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	var gqlResp graphQLResponse
	_, err := c.do(ctx, func() (*github.Response, error) {
		req, err := c.client.NewRequest("POST", "graphql", graphQLRequest{Query: query, Variables: vars})
		if err != nil {
			return nil, err
		}
		gqlResp = graphQLResponse{}
		return c.client.Do(ctx, req, &gqlResp)
	})
	if err != nil {
		return err
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("graphql: decoding data: %w", err)
	}
	return nil
}

const projectLookupQuery = `query($owner: String!, $repo: String!, $issue: Int!, $project: Int!) {
  repository(owner: $owner, name: $repo) {
    issue(number: $issue) {
      id
      projectItems(first: 50) { nodes { id project { id number } } }
    }
    owner {
      ... on ProjectV2Owner {
        projectV2(number: $project) {
          id
          field(name: "Status") {
            ... on ProjectV2SingleSelectField { id options { id name } }
          }
        }
      }
    }
  }
}`

const addProjectItemMutation = `mutation($project: ID!, $content: ID!) {
  addProjectV2ItemById(input: {projectId: $project, contentId: $content}) { item { id } }
}`

const updateStatusMutation = `mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
  updateProjectV2ItemFieldValue(input: {projectId: $project, itemId: $item, fieldId: $field, value: {singleSelectOptionId: $option}}) {
    projectV2Item { id }
  }
}`

type projectLookup struct {
	Repository struct {
		Issue *struct {
			ID           string `json:"id"`
			ProjectItems struct {
				Nodes []struct {
					ID      string `json:"id"`
					Project struct {
						ID     string `json:"id"`
						Number int    `json:"number"`
					} `json:"project"`
				} `json:"nodes"`
			} `json:"projectItems"`
		} `json:"issue"`
		Owner struct {
			ProjectV2 *struct {
				ID    string `json:"id"`
				Field *struct {
					ID      string `json:"id"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"field"`
			} `json:"projectV2"`
		} `json:"owner"`
	} `json:"repository"`
}

// UpdateProjectStatus sets the Status field of issueNumber's item on the
// Projects V2 board projectNumber, adding the issue to the board if needed.
func (c *githubClient) UpdateProjectStatus(ctx context.Context, projectNumber, issueNumber int, status string) error {
	var lookup projectLookup
	err := c.graphql(ctx, projectLookupQuery, map[string]any{
		"owner": c.owner, "repo": c.repo, "issue": issueNumber, "project": projectNumber,
	}, &lookup)
	if err != nil {
		return fmt.Errorf("updating project status for #%d: %w", issueNumber, err)
	}

	repo := lookup.Repository
	if repo.Issue == nil {
		return &APIError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("updating project status for #%d: issue not found in %s/%s", issueNumber, c.owner, c.repo)}
	}
	project := repo.Owner.ProjectV2
	if project == nil {
		return &APIError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("updating project status for #%d: project %d not found", issueNumber, projectNumber)}
	}
	if project.Field == nil {
		return fmt.Errorf("updating project status for #%d: project %d has no Status field", issueNumber, projectNumber)
	}

	var optionID string
	for _, opt := range project.Field.Options {
		if strings.EqualFold(opt.Name, status) {
			optionID = opt.ID
			break
		}
	}
	if optionID == "" {
		return fmt.Errorf("updating project status for #%d: unknown status %q", issueNumber, status)
	}

	var itemID string
	for _, node := range repo.Issue.ProjectItems.Nodes {
		if node.Project.ID == project.ID {
			itemID = node.ID
			break
		}
	}
	if itemID == "" {
		var added struct {
			AddProjectV2ItemByID struct {
				Item struct {
					ID string `json:"id"`
				} `json:"item"`
			} `json:"addProjectV2ItemById"`
		}
		err := c.graphql(ctx, addProjectItemMutation, map[string]any{
			"project": project.ID, "content": repo.Issue.ID,
		}, &added)
		if err != nil {
			return fmt.Errorf("updating project status for #%d: adding to project: %w", issueNumber, err)
		}
		itemID = added.AddProjectV2ItemByID.Item.ID
	}

	err = c.graphql(ctx, updateStatusMutation, map[string]any{
		"project": project.ID, "item": itemID, "field": project.Field.ID, "option": optionID,
	}, nil)
	if err != nil {
		return fmt.Errorf("updating project status for #%d: %w", issueNumber, err)
	}
	c.logger.Info("project status updated",
		zap.Int("issue", issueNumber),
		zap.Int("project", projectNumber),
		zap.String("status", status),
	)
	return nil
}
