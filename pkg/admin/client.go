package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

// Route selects the admin lifecycle stage endpoint
type Route string

const (
	RoutePreview Route = "preview"
	RouteLive    Route = "live"
)

// mockIdentity stubs admin requests with a fixed delay, a testing aid
const mockIdentity = "mock"

// Client talks to the admin API for bulk preview/publish/unpublish jobs
type Client struct {
	baseURL   string
	org, site string
	authToken string
	http      *httpx.Client
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClient creates an admin client
func NewClient(baseURL, org, site, authToken string, http *httpx.Client) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		org:       org,
		site:      site,
		authToken: authToken,
		http:      http,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func (c *Client) mock() bool {
	return c.org == mockIdentity || c.site == mockIdentity
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
	}
	if c.authToken != "" {
		h["x-auth-token"] = c.authToken
	}
	return h
}

type bulkRequest struct {
	ForceUpdate bool     `json:"forceUpdate"`
	Paths       []string `json:"paths"`
	Delete      bool     `json:"delete"`
}

type jobLinks struct {
	Details string `json:"details"`
	Self    string `json:"self"`
}

type jobEnvelope struct {
	Job *struct {
		Topic string   `json:"topic"`
		Name  string   `json:"name"`
		State string   `json:"state"`
		Links jobLinks `json:"links"`
	} `json:"job"`
}

// SubmitBulk starts one asynchronous bulk job for paths. delete selects the
// unpublish direction.
func (c *Client) SubmitBulk(ctx context.Context, opName string, route Route, paths []string, del bool) (*types.JobHandle, error) {
	if c.mock() {
		if err := c.sleep(ctx, time.Second); err != nil {
			return nil, err
		}
		return &types.JobHandle{
			Topic: string(route),
			Name:  fmt.Sprintf("mock-%d", time.Now().UnixNano()),
			State: types.JobStateStopped,
			Progress: types.JobProgress{
				Processed: len(paths),
				Total:     len(paths),
			},
		}, nil
	}

	body, err := json.Marshal(bulkRequest{ForceUpdate: true, Paths: paths, Delete: del})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/%s/%s/main/*", c.baseURL, route, c.org, c.site)
	var envelope jobEnvelope
	if err := c.http.RequestJSON(ctx, opName, url, httpx.Options{
		Method:  http.MethodPost,
		Headers: c.headers(),
		Body:    body,
	}, &envelope); err != nil {
		return nil, err
	}
	if envelope.Job == nil {
		return nil, fmt.Errorf("%s: admin response carries no job", opName)
	}

	handle := &types.JobHandle{
		Topic:       envelope.Job.Topic,
		Name:        envelope.Job.Name,
		State:       types.JobState(envelope.Job.State),
		DetailsLink: envelope.Job.Links.Details,
	}
	log.WithComponent("admin").Debug().
		Str("topic", handle.Topic).
		Str("name", handle.Name).
		Int("paths", len(paths)).
		Msg("bulk job submitted")
	return handle, nil
}

// JobStatus polls one job; terminal state is stopped
func (c *Client) JobStatus(ctx context.Context, handle *types.JobHandle) (*types.JobHandle, error) {
	if c.mock() {
		handle.State = types.JobStateStopped
		return handle, nil
	}

	url := fmt.Sprintf("%s/job/%s/%s", c.baseURL, handle.Topic, handle.Name)
	var status struct {
		State    string            `json:"state"`
		Progress types.JobProgress `json:"progress"`
		Links    jobLinks          `json:"links"`
	}
	if err := c.http.RequestJSON(ctx, "job-status", url, httpx.Options{Headers: c.headers()}, &status); err != nil {
		return nil, err
	}

	updated := &types.JobHandle{
		Topic:       handle.Topic,
		Name:        handle.Name,
		State:       types.JobState(status.State),
		Progress:    status.Progress,
		DetailsLink: status.Links.Details,
	}
	if updated.DetailsLink == "" {
		updated.DetailsLink = handle.DetailsLink
	}
	return updated, nil
}

// JobDetails fetches per-path outcomes; a path succeeded when its status is
// in [200,300). An absent details link yields no successful paths.
func (c *Client) JobDetails(ctx context.Context, handle *types.JobHandle, submitted []string) (map[string]bool, error) {
	successful := make(map[string]bool)
	if c.mock() {
		for _, p := range submitted {
			successful[p] = true
		}
		return successful, nil
	}
	if handle.DetailsLink == "" {
		return successful, nil
	}

	var details struct {
		Data struct {
			Resources []struct {
				Path   string `json:"path"`
				Status int    `json:"status"`
			} `json:"resources"`
		} `json:"data"`
	}
	if err := c.http.RequestJSON(ctx, "job-details", handle.DetailsLink, httpx.Options{Headers: c.headers()}, &details); err != nil {
		return nil, err
	}
	for _, r := range details.Data.Resources {
		if r.Status >= 200 && r.Status < 300 {
			successful[r.Path] = true
		}
	}
	return successful, nil
}
