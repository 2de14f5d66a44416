package versions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGitHubURL = "https://api.github.com"
	githubAPIVersion = "2022-11-28"
	githubPageSize   = 100
)

type GitHubConfig struct {
	BaseURL    string
	Repo       string
	Branch     string
	Token      string
	HTTPClient *http.Client
}

// GitHubSource reads the commit history of one branch.
type GitHubSource struct {
	baseURL string
	repo    string
	branch  string
	token   string
	client  *http.Client
}

func NewGitHubSource(cfg GitHubConfig) (*GitHubSource, error) {
	if !strings.Contains(cfg.Repo, "/") {
		return nil, fmt.Errorf("github: repo must be owner/name, got %q", cfg.Repo)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGitHubURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GitHubSource{baseURL: baseURL, repo: cfg.Repo, branch: cfg.Branch, token: cfg.Token, client: client}, nil
}

func (s *GitHubSource) Name() string { return "github:" + s.repo }

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date time.Time `json:"date"`
		} `json:"author"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (s *GitHubSource) Fetch(ctx context.Context, limit int) ([]Entry, error) {
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	perPage := githubPageSize
	if limit > 0 && limit < perPage {
		perPage = limit
	}

	var entries []Entry
	for page := 1; page <= maxPages; page++ {
		query := url.Values{}
		query.Set("per_page", fmt.Sprint(perPage))
		query.Set("page", fmt.Sprint(page))
		if s.branch != "" {
			query.Set("sha", s.branch)
		}
		endpoint := fmt.Sprintf("%s/repos/%s/commits?%s", s.baseURL, s.repo, query.Encode())

		var commits []githubCommit
		if err := getJSON(ctx, s.client, "github", endpoint, header, &commits); err != nil {
			return nil, err
		}
		for _, commit := range commits {
			date := commit.Commit.Committer.Date
			if date.IsZero() {
				date = commit.Commit.Author.Date
			}
			entries = append(entries, Entry{
				Message:   firstLine(commit.Commit.Message),
				Date:      date.UTC(),
				CommitSHA: commit.SHA,
			})
			if limit > 0 && len(entries) >= limit {
				return entries, nil
			}
		}
		if len(commits) < perPage {
			break
		}
	}
	return entries, nil
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return strings.TrimSpace(message)
}
