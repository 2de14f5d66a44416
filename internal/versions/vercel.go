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
	defaultVercelURL = "https://api.vercel.com"
	vercelPageSize   = 100
)

type VercelConfig struct {
	BaseURL    string
	ProjectID  string
	Token      string
	HTTPClient *http.Client
}

// VercelSource reads the READY deployments of one project.
type VercelSource struct {
	baseURL   string
	projectID string
	token     string
	client    *http.Client
}

func NewVercelSource(cfg VercelConfig) (*VercelSource, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vercel: project id is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultVercelURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &VercelSource{baseURL: baseURL, projectID: cfg.ProjectID, token: cfg.Token, client: client}, nil
}

func (s *VercelSource) Name() string { return "vercel:" + s.projectID }

type vercelDeployments struct {
	Deployments []struct {
		UID     string `json:"uid"`
		Name    string `json:"name"`
		Created int64  `json:"created"`
		Meta    struct {
			CommitSHA     string `json:"githubCommitSha"`
			CommitMessage string `json:"githubCommitMessage"`
		} `json:"meta"`
	} `json:"deployments"`
	Pagination struct {
		Next *int64 `json:"next"`
	} `json:"pagination"`
}

func (s *VercelSource) Fetch(ctx context.Context, limit int) ([]Entry, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	pageSize := vercelPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	var entries []Entry
	var until *int64
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("projectId", s.projectID)
		query.Set("state", "READY")
		query.Set("limit", fmt.Sprint(pageSize))
		if until != nil {
			query.Set("until", fmt.Sprint(*until))
		}

		var resp vercelDeployments
		if err := getJSON(ctx, s.client, "vercel", s.baseURL+"/v6/deployments?"+query.Encode(), header, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Deployments {
			message := firstLine(d.Meta.CommitMessage)
			if message == "" {
				message = d.Name
			}
			entries = append(entries, Entry{
				Message:      message,
				Date:         time.UnixMilli(d.Created).UTC(),
				CommitSHA:    d.Meta.CommitSHA,
				DeploymentID: d.UID,
			})
			if limit > 0 && len(entries) >= limit {
				return entries, nil
			}
		}
		if resp.Pagination.Next == nil || len(resp.Deployments) == 0 {
			break
		}
		until = resp.Pagination.Next
	}
	return entries, nil
}
