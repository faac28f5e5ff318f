// Package github is the code-host client: PR metadata, CI artifacts, and
// the write operations (comment, approve, merge).
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/runner"
)

const (
	apiBase   = "https://api.github.com"
	userAgent = "nixpkgs-review"

	maxAttempts = 3
	// Never sleep longer than this waiting for a rate limit to reset.
	maxRateLimitWait = 2 * time.Minute
)

// ErrNoToken is returned by operations that require authentication when
// no token is configured.
var ErrNoToken = errors.New("no GitHub token: set GITHUB_TOKEN or GITHUB_TOKEN_CMD")

// RemoteError is a non-2xx API response.
type RemoteError struct {
	Status int
	Path   string
	Body   string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("GitHub API %s: HTTP %d", e.Path, e.Status)
	if e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized {
		msg += " (set GITHUB_TOKEN to raise the rate limit)"
	}
	return msg
}

// Client talks to the GitHub REST API for one repository.
type Client struct {
	Owner string
	Repo  string

	token string
	http  *http.Client
	// base and sleep are replaceable in tests.
	base  string
	sleep func(time.Duration)
}

// NewClient builds a client for owner/repo with the given token (may be
// empty for read-only, rate-limited access).
func NewClient(owner, repo, token string) *Client {
	return &Client{
		Owner: owner,
		Repo:  repo,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
		base:  apiBase,
		sleep: time.Sleep,
	}
}

// ResolveToken returns the API token from GITHUB_TOKEN, or by running
// GITHUB_TOKEN_CMD and trimming its stdout. Empty when neither is set.
func ResolveToken(ctx context.Context) (string, error) {
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok, nil
	}
	cmd := os.Getenv("GITHUB_TOKEN_CMD")
	if cmd == "" {
		return "", nil
	}
	res, err := runner.RunChecked(ctx, runner.Command{
		Args: []string{"sh", "-c", cmd},
	})
	if err != nil {
		return "", fmt.Errorf("GITHUB_TOKEN_CMD: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// HasToken reports whether the client is authenticated.
func (c *Client) HasToken() bool { return c.token != "" }

func (c *Client) repoPath(format string, a ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.Owner, c.Repo) + fmt.Sprintf(format, a...)
}

// request performs one API call with retry on 5xx and rate-limit
// exhaustion, decoding the JSON response into out when non-nil.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(time.Duration(1<<(attempt-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "token "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("GitHub API %s: %w", path, err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("GitHub API %s: read body: %w", path, err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("GitHub API %s: decode response: %w", path, err)
				}
			}
			return nil
		case resp.StatusCode == http.StatusForbidden && rateLimited(resp):
			c.sleep(rateLimitWait(resp))
			lastErr = &RemoteError{Status: resp.StatusCode, Path: path, Body: string(data)}
		case resp.StatusCode >= 500:
			lastErr = &RemoteError{Status: resp.StatusCode, Path: path, Body: string(data)}
		default:
			return &RemoteError{Status: resp.StatusCode, Path: path, Body: string(data)}
		}
	}
	return lastErr
}

func rateLimited(resp *http.Response) bool {
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func rateLimitWait(resp *http.Response) time.Duration {
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Second
	}
	wait := time.Until(time.Unix(reset, 0)) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	return wait
}

type prResponse struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	State          string `json:"state"`
	Draft          bool   `json:"draft"`
	MergeCommitSha string `json:"merge_commit_sha"`
	User           struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Sha string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
		Sha string `json:"sha"`
	} `json:"base"`
}

// PullRequest fetches PR metadata.
func (c *Client) PullRequest(ctx context.Context, number int) (*models.PRSpec, error) {
	var raw prResponse
	if err := c.request(ctx, http.MethodGet, c.repoPath("/pulls/%d", number), nil, &raw); err != nil {
		return nil, err
	}
	return &models.PRSpec{
		Number:         raw.Number,
		Title:          raw.Title,
		Body:           raw.Body,
		State:          raw.State,
		Draft:          raw.Draft,
		Author:         raw.User.Login,
		BaseRef:        raw.Base.Ref,
		BaseSha:        raw.Base.Sha,
		HeadSha:        raw.Head.Sha,
		MergeCommitSha: raw.MergeCommitSha,
	}, nil
}

// CommentIssue posts a comment on a PR (issues endpoint, as PRs are
// issues for commenting purposes).
func (c *Client) CommentIssue(ctx context.Context, number int, body string) error {
	if c.token == "" {
		return ErrNoToken
	}
	return c.request(ctx, http.MethodPost, c.repoPath("/issues/%d/comments", number),
		map[string]string{"body": body}, nil)
}

// ApprovePR submits an approving review. Approving your own PR is
// rejected by GitHub with 422; that case is reported as a warning-level
// error the caller can choose to tolerate.
func (c *Client) ApprovePR(ctx context.Context, number int, body string) error {
	if c.token == "" {
		return ErrNoToken
	}
	payload := map[string]string{"event": "APPROVE"}
	if body != "" {
		payload["body"] = body
	}
	err := c.request(ctx, http.MethodPost, c.repoPath("/pulls/%d/reviews", number), payload, nil)
	var re *RemoteError
	if errors.As(err, &re) && re.Status == http.StatusUnprocessableEntity {
		return fmt.Errorf("cannot approve #%d: GitHub refused (approving your own PR is unsupported)", number)
	}
	return err
}

// MergePR merges the PR.
func (c *Client) MergePR(ctx context.Context, number int) error {
	if c.token == "" {
		return ErrNoToken
	}
	return c.request(ctx, http.MethodPut, c.repoPath("/pulls/%d/merge", number), struct{}{}, nil)
}

// Comment is one issue comment on a PR.
type Comment struct {
	Author    string    `json:"-"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// Comments lists the comments on a PR, oldest first.
func (c *Client) Comments(ctx context.Context, number int) ([]Comment, error) {
	var comments []Comment
	if err := c.request(ctx, http.MethodGet, c.repoPath("/issues/%d/comments", number), nil, &comments); err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].Author = comments[i].User.Login
	}
	return comments, nil
}
