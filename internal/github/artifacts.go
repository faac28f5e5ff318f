package github

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

// ErrArtifactExpired marks a CI artifact that GitHub has already
// garbage-collected (HTTP 410).
var ErrArtifactExpired = errors.New("CI artifact has expired or been removed")

// ErrNoEvalResult means no finished eval workflow artifact exists yet
// for the head commit.
var ErrNoEvalResult = errors.New("no CI evaluation result available")

// changedPaths is the payload of changed-paths.json inside the
// comparison artifact.
type changedPaths struct {
	RebuildsByPlatform map[string][]string `json:"rebuildsByPlatform"`
}

type workflowRun struct {
	Name         string `json:"name"`
	ArtifactsURL string `json:"artifacts_url"`
}

type artifact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EvalResult fetches the pre-computed rebuild sets for a head commit
// from the eval workflow's "comparison" artifact. Returns
// ErrNoEvalResult when the workflow has not produced one yet.
func (c *Client) EvalResult(ctx context.Context, headSha string) (map[models.System][]string, error) {
	var runs struct {
		WorkflowRuns []workflowRun `json:"workflow_runs"`
	}
	if err := c.request(ctx, http.MethodGet,
		c.repoPath("/actions/runs?head_sha=%s", headSha), nil, &runs); err != nil {
		return nil, err
	}

	for _, run := range runs.WorkflowRuns {
		// "Eval" is the legacy workflow name, "PR" the current one.
		if run.Name != "Eval" && run.Name != "PR" {
			continue
		}
		var arts struct {
			Artifacts []artifact `json:"artifacts"`
		}
		// artifacts_url is absolute; strip the API base to reuse request().
		path := c.trimBase(run.ArtifactsURL)
		if err := c.request(ctx, http.MethodGet, path, nil, &arts); err != nil {
			return nil, err
		}
		for _, a := range arts.Artifacts {
			if a.Name != "comparison" {
				continue
			}
			var paths changedPaths
			if err := c.artifactJSON(ctx, a.ID, "changed-paths.json", &paths); err != nil {
				return nil, err
			}
			if paths.RebuildsByPlatform == nil {
				return nil, ErrNoEvalResult
			}
			return paths.RebuildsByPlatform, nil
		}
	}
	return nil, ErrNoEvalResult
}

func (c *Client) trimBase(url string) string {
	if len(url) > len(c.base) && url[:len(c.base)] == c.base {
		return url[len(c.base):]
	}
	return url
}

// artifactJSON downloads the artifact zip and decodes one JSON file out
// of it. The download endpoint answers with a 302 to short-lived blob
// storage; redirects are followed manually so the Authorization header
// is not leaked to the storage host.
func (c *Client) artifactJSON(ctx context.Context, id int64, filename string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+c.repoPath("/actions/artifacts/%d/zip", id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("download artifact %d: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusFound:
		// fall through to the blob fetch below
	case http.StatusGone:
		return fmt.Errorf("artifact %d: %w (try --eval local or re-run CI)", id, ErrArtifactExpired)
	default:
		return &RemoteError{Status: resp.StatusCode, Path: fmt.Sprintf("artifact %d", id)}
	}

	blobURL := resp.Header.Get("Location")
	if blobURL == "" {
		return fmt.Errorf("artifact %d: redirect without Location", id)
	}
	blobReq, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return err
	}
	blobReq.Header.Set("User-Agent", userAgent)
	blobResp, err := c.http.Do(blobReq)
	if err != nil {
		return fmt.Errorf("download artifact %d blob: %w", id, err)
	}
	defer blobResp.Body.Close()
	if blobResp.StatusCode != http.StatusOK {
		return &RemoteError{Status: blobResp.StatusCode, Path: "artifact blob"}
	}

	data, err := io.ReadAll(blobResp.Body)
	if err != nil {
		return fmt.Errorf("read artifact %d: %w", id, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("artifact %d: not a zip: %w", id, err)
	}
	for _, f := range zr.File {
		if f.Name != filename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("artifact %d: open %s: %w", id, filename, err)
		}
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(out); err != nil {
			return fmt.Errorf("artifact %d: decode %s: %w", id, filename, err)
		}
		return nil
	}
	return fmt.Errorf("artifact %d: %s not found in archive", id, filename)
}
