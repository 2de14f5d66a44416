package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Entry is one item of external release history: a commit or a deployment.
type Entry struct {
	Message      string
	Date         time.Time
	CommitSHA    string
	DeploymentID string
}

// Source fetches external history newest first. A limit of zero asks for the
// whole history the source is willing to page through.
type Source interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]Entry, error)
}

// maxPages bounds paging so a huge history cannot stall a sync.
const maxPages = 20

type APIError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.StatusCode, e.Body)
}

func getJSON(ctx context.Context, client *http.Client, source, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: reading response body: %w", source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &APIError{Source: source, StatusCode: resp.StatusCode, Body: snippet}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", source, err)
	}
	return nil
}
