package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/version"
)

// Descriptor is the answer to an update check. It is never persisted.
type Descriptor struct {
	LatestVersion string `json:"latest_version"`
	ChangelogURL  string `json:"changelog_url"`
	DownloadURL   string `json:"download_url"`
	HasUpdate     bool   `json:"has_update"`
}

// Release is one published release as reported by a ReleaseSource.
type Release struct {
	Version      string
	ChangelogURL string
	DownloadURL  string
}

// ReleaseSource is the remote collaborator that knows about releases.
type ReleaseSource interface {
	LatestRelease(ctx context.Context) (*Release, error)
	ReleaseByTag(ctx context.Context, tag string) (*Release, error)
}

// GitHubReleaseSource reads releases from a GitHub style releases API,
// e.g. https://api.github.com/repos/<owner>/<repo>/releases.
type GitHubReleaseSource struct {
	baseURL string
	client  *http.Client
}

type NewGitHubReleaseSourceOptions struct {
	BaseURL string
	Client  *http.Client
}

func NewGitHubReleaseSource(opts NewGitHubReleaseSourceOptions) *GitHubReleaseSource {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GitHubReleaseSource{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
	}
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

func (s *GitHubReleaseSource) LatestRelease(ctx context.Context) (*Release, error) {
	return s.fetch(ctx, s.baseURL+"/latest")
}

func (s *GitHubReleaseSource) ReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	return s.fetch(ctx, s.baseURL+"/tags/"+url.PathEscape(tag))
}

func (s *GitHubReleaseSource) fetch(ctx context.Context, endpoint string) (*Release, error) {
	const op = "updates.fetch_release"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Errorf(apperr.KindRemote, op, "failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "savekeeper/"+version.Get())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Errorf(apperr.KindRemote, op, "failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Errorf(apperr.KindRemote, op, "release endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, apperr.Errorf(apperr.KindRemote, op, "failed to parse release: %w", err)
	}
	if gr.TagName == "" {
		return nil, apperr.Errorf(apperr.KindRemote, op, "release has no version tag")
	}

	release := &Release{
		Version:      gr.TagName,
		ChangelogURL: gr.HTMLURL,
	}
	for _, asset := range gr.Assets {
		if asset.BrowserDownloadURL != "" {
			release.DownloadURL = asset.BrowserDownloadURL
			break
		}
	}
	return release, nil
}

// String is used in log lines.
func (r *Release) String() string {
	return fmt.Sprintf("%s (%s)", r.Version, r.ChangelogURL)
}
