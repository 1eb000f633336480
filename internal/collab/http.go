package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sundialhq/sundial/pkg/types"
)

// HTTPClient fetches collaborator snapshots over HTTP. Each source is a GET
// against its base URL with the thread ID as a query parameter, returning a
// JSON body. The caller's context carries the gather deadline, so no timeout
// is configured here.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a snapshot client for one collaborator endpoint.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (c *HTTPClient) get(ctx context.Context, threadID string, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("collab: invalid endpoint %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("thread_id", threadID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("collab: failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: request to %s failed: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collab: %s returned status %d", u.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("collab: failed to decode %s response: %w", u.Host, err)
	}
	return nil
}

// CalendarClient is an HTTP-backed CalendarSource.
type CalendarClient struct{ *HTTPClient }

// NewCalendarClient creates a calendar snapshot client.
func NewCalendarClient(baseURL string) *CalendarClient {
	return &CalendarClient{NewHTTPClient(baseURL)}
}

func (c *CalendarClient) UpcomingEvents(ctx context.Context, threadID string) ([]types.CalendarEvent, error) {
	var events []types.CalendarEvent
	if err := c.get(ctx, threadID, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// TasksClient is an HTTP-backed TaskSource.
type TasksClient struct{ *HTTPClient }

// NewTasksClient creates a task snapshot client.
func NewTasksClient(baseURL string) *TasksClient {
	return &TasksClient{NewHTTPClient(baseURL)}
}

func (c *TasksClient) OpenTasks(ctx context.Context, threadID string) ([]types.TaskItem, error) {
	var tasks []types.TaskItem
	if err := c.get(ctx, threadID, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// HabitsClient is an HTTP-backed HabitSource.
type HabitsClient struct{ *HTTPClient }

// NewHabitsClient creates a habit profile client.
func NewHabitsClient(baseURL string) *HabitsClient {
	return &HabitsClient{NewHTTPClient(baseURL)}
}

func (c *HabitsClient) Profile(ctx context.Context, threadID string) (*types.HabitProfile, error) {
	var profile types.HabitProfile
	if err := c.get(ctx, threadID, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LocationClient is an HTTP-backed LocationSource.
type LocationClient struct{ *HTTPClient }

// NewLocationClient creates a location snapshot client.
func NewLocationClient(baseURL string) *LocationClient {
	return &LocationClient{NewHTTPClient(baseURL)}
}

func (c *LocationClient) LastKnown(ctx context.Context, threadID string) (*types.LocationSnapshot, error) {
	var snapshot types.LocationSnapshot
	if err := c.get(ctx, threadID, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
