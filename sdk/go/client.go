package echowarsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Echowar HTTP API client.
type Client struct {
	BaseURL     string
	EpochID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, epochID string) *Client {
	return &Client{
		BaseURL: baseURL,
		EpochID: epochID,
		Timeout: 10 * time.Second,
	}
}

// Epoch represents the API epoch model (partial).
type Epoch struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	CurrentCycle int             `json:"current_cycle"`
	Config       json.RawMessage `json:"config"`
}

// Mission represents a deployed operative mission.
type Mission struct {
	ID                 string  `json:"id"`
	EpochID            string  `json:"epoch_id"`
	AgentID            string  `json:"agent_id"`
	OperativeType      string  `json:"operative_type"`
	SourceWorldID      string  `json:"source_world_id"`
	TargetWorldID      *string `json:"target_world_id,omitempty"`
	Status             string  `json:"status"`
	SuccessProbability float64 `json:"success_probability"`
	ResolvesAt         string  `json:"resolves_at"`
}

// Echo represents a cross-world propagation.
type Echo struct {
	ID            string  `json:"id"`
	EpochID       string  `json:"epoch_id"`
	SourceEventID string  `json:"source_event_id"`
	SourceWorldID string  `json:"source_world_id"`
	TargetWorldID string  `json:"target_world_id"`
	Vector        string  `json:"echo_vector"`
	Strength      float64 `json:"echo_strength"`
	Depth         int     `json:"echo_depth"`
	Status        string  `json:"status"`
}

// LeaderboardRow is one ranked entry.
type LeaderboardRow struct {
	Rank      int     `json:"rank"`
	WorldID   string  `json:"world_id"`
	WorldName string  `json:"world_name"`
	TeamName  string  `json:"team_name,omitempty"`
	Composite float64 `json:"composite"`
}

// BattleLogEntry is one record from the epoch's log.
type BattleLogEntry struct {
	ID        int64  `json:"id"`
	EpochID   string `json:"epoch_id"`
	Cycle     int    `json:"cycle"`
	EventType string `json:"event_type"`
	Narrative string `json:"narrative"`
	Public    bool   `json:"public"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetEpoch fetches the configured epoch.
func (c *Client) GetEpoch(ctx context.Context) (Epoch, error) {
	var resp Epoch
	err := c.do(ctx, http.MethodGet, c.epochPath(""), nil, &resp)
	return resp, err
}

// Join enters the epoch lobby with a world.
func (c *Client) Join(ctx context.Context, worldID string) error {
	body := map[string]any{"world_id": worldID}
	return c.do(ctx, http.MethodPost, c.epochPath("join"), body, nil)
}

// DeployMission sends an operative against a target.
func (c *Client) DeployMission(ctx context.Context, worldID, agentID, operativeType, targetWorldID string) (Mission, error) {
	body := map[string]any{
		"world_id":       worldID,
		"agent_id":       agentID,
		"operative_type": operativeType,
	}
	if targetWorldID != "" {
		body["target_world_id"] = targetWorldID
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.epochPath("missions"), body, &resp)
	return resp, err
}

// Missions lists missions, optionally filtered by source world and status.
func (c *Client) Missions(ctx context.Context, worldID, status string) ([]Mission, error) {
	endpoint := c.epochPath("missions") + listQuery(worldID, status)
	var resp []Mission
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TriggerEcho evaluates an event for propagation.
func (c *Client) TriggerEcho(ctx context.Context, eventID string) ([]Echo, error) {
	body := map[string]any{"event_id": eventID}
	var resp []Echo
	err := c.do(ctx, http.MethodPost, c.epochPath("echoes/trigger"), body, &resp)
	return resp, err
}

// Echoes lists echoes, optionally filtered by target world and status.
func (c *Client) Echoes(ctx context.Context, worldID, status string) ([]Echo, error) {
	endpoint := c.epochPath("echoes") + listQuery(worldID, status)
	var resp []Echo
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApproveEcho approves a pending echo.
func (c *Client) ApproveEcho(ctx context.Context, echoID string) (Echo, error) {
	var resp Echo
	endpoint := c.epochPath(fmt.Sprintf("echoes/%s/approve", url.PathEscape(echoID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Leaderboard returns the current ranking.
func (c *Client) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	var resp []LeaderboardRow
	err := c.do(ctx, http.MethodGet, c.epochPath("leaderboard"), nil, &resp)
	return resp, err
}

// BattleLog returns recent battle log entries, newest first.
func (c *Client) BattleLog(ctx context.Context, limit int) ([]BattleLogEntry, error) {
	endpoint := c.epochPath("battlelog")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []BattleLogEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func listQuery(worldID, status string) string {
	q := url.Values{}
	if worldID != "" {
		q.Set("world_id", worldID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) epochPath(p string) string {
	epoch := url.PathEscape(c.EpochID)
	if p == "" {
		return fmt.Sprintf("v0/epochs/%s", epoch)
	}
	return fmt.Sprintf("v0/epochs/%s/%s", epoch, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
