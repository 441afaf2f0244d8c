// Package trello is a minimal read client for the Trello API plus a
// one-directional import into a board. Cards carry external_type="trello"
// so re-imports are idempotent by Trello card id.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const defaultBaseURL = "https://api.trello.com/1"

// Client is an authenticated Trello API client. The zero value is not
// usable; construct with NewClient or NewClientFromEnv.
type Client struct {
	apiKey  string
	token   string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey, token string) *Client {
	return &Client{
		apiKey:  apiKey,
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientFromEnv builds a client from TRELLO_API_KEY and TRELLO_TOKEN.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("TRELLO_API_KEY")
	token := os.Getenv("TRELLO_TOKEN")
	if apiKey == "" || token == "" {
		return nil, fmt.Errorf("missing TRELLO_API_KEY or TRELLO_TOKEN in environment")
	}
	return NewClient(apiKey, token), nil
}

// SetBaseURL overrides the API endpoint, mainly for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Board is a Trello board summary.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List is a Trello list (the board column analogue).
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Card is a Trello card projection with just the fields the import needs.
type Card struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	IDList string `json:"idList"`
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build trello request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trello request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("trello %s: status %s: %s", endpoint, resp.Status, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode trello response: %w", err)
	}
	return nil
}

// Boards lists the authenticated member's boards.
func (c *Client) Boards(ctx context.Context) ([]Board, error) {
	var boards []Board
	params := url.Values{"fields": {"name,id"}}
	if err := c.get(ctx, "/members/me/boards", params, &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// BoardByName finds a board by exact name, or nil when absent.
func (c *Client) BoardByName(ctx context.Context, name string) (*Board, error) {
	boards, err := c.Boards(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range boards {
		if b.Name == name {
			return &b, nil
		}
	}
	return nil, nil
}

// Lists returns a board's lists.
func (c *Client) Lists(ctx context.Context, boardID string) ([]List, error) {
	var lists []List
	params := url.Values{"fields": {"name,id"}}
	if err := c.get(ctx, "/boards/"+boardID+"/lists", params, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// Cards returns a board's cards.
func (c *Client) Cards(ctx context.Context, boardID string) ([]Card, error) {
	var cards []Card
	params := url.Values{"fields": {"name,desc,idList,id"}}
	if err := c.get(ctx, "/boards/"+boardID+"/cards", params, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}
