package universe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL   = "https://www.universe.com/graphql"
	defaultTokenURL = "https://www.universe.com/oauth/token"

	tokenTimeout = 30 * time.Second
	queryTimeout = 90 * time.Second

	// pageInterval throttles successive page fetches so a long run stays
	// under the API's rate limit. It is a throttle, not a retry/backoff.
	pageInterval = 100 * time.Millisecond
)

// ordersQuery pulls one page of an event's orders with nested items and rate
// snapshots, plus the event metadata and the orders totalCount.
const ordersQuery = `
query OrdersPage($eventId: ID!, $limit: Int!, $offset: Int!, $updatedSince: Time) {
  event(id: $eventId) {
    id title state maxQuantity slug updatedAt calendarDates
    orders(updatedSince: $updatedSince) {
      totalCount
      nodes(limit: $limit, offset: $offset) {
        id state createdAt confirmed
        buyer { firstName lastName email }
        orderItems {
          nodes {
            id amount orderState qrCode firstName lastName
            rate { id name soldCount maxQuantity price }
          }
        }
      }
    }
  }
}
`

// exportQuery is the full-dump variant used by the CSV export: no
// updatedSince filter and the per-item cost breakdown included.
const exportQuery = `
query OrdersPage($eventId: ID!, $limit: Int!, $offset: Int!) {
  event(id: $eventId) {
    id title state maxQuantity slug updatedAt calendarDates
    orders {
      totalCount
      nodes(limit: $limit, offset: $offset) {
        id state createdAt confirmed
        buyer { firstName lastName email }
        orderItems {
          nodes {
            id amount orderState qrCode firstName lastName
            costBreakdown { currency fee discount price subtotal }
            rate { id name soldCount maxQuantity price }
          }
        }
      }
    }
  }
}
`

// ErrNoEventData means a response carried no event object at all. A response
// with data plus a non-empty errors list is partial, not failed.
var ErrNoEventData = errors.New("universe: no event data in response")

// Client talks to the Universe GraphQL API. The access token is exchanged
// once via Authenticate and cached for the process lifetime.
type Client struct {
	apiURL   string
	tokenURL string
	http     *http.Client
	limiter  *rate.Limiter
	log      *zap.SugaredLogger
	token    string
}

func NewClient(log *zap.SugaredLogger) *Client {
	return &Client{
		apiURL:   defaultAPIURL,
		tokenURL: defaultTokenURL,
		http:     &http.Client{Timeout: queryTimeout},
		limiter:  rate.NewLimiter(rate.Every(pageInterval), 1),
		log:      log,
	}
}

// NewClientForURL points the client at a non-default endpoint (tests).
func NewClientForURL(apiURL, tokenURL string, log *zap.SugaredLogger) *Client {
	c := NewClient(log)
	c.apiURL = apiURL
	c.tokenURL = tokenURL
	return c
}

// Authenticate exchanges the refresh token for an access token. Failure here
// is fatal for the whole run; nothing is fetched without a token.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret, refreshToken string) error {
	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token exchange: unexpected status %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("token response: %w", err)
	}
	if body.AccessToken == "" {
		return errors.New("token response: empty access_token")
	}
	c.token = body.AccessToken
	return nil
}

// FetchPage retrieves one page of orders for eventID. updatedSince, when
// non-nil, is sent as an absolute UTC instant; nil means a full fetch and the
// variable is omitted. Returned GraphQL errors are partial and non-fatal as
// long as the event object is present.
func (c *Client) FetchPage(ctx context.Context, eventID string, limit, offset int, updatedSince *time.Time) (*EventPage, []GraphQLError, error) {
	vars := map[string]interface{}{
		"eventId": eventID,
		"limit":   limit,
		"offset":  offset,
	}
	if updatedSince != nil {
		vars["updatedSince"] = updatedSince.UTC().Format("2006-01-02T15:04:05Z")
	}
	return c.query(ctx, ordersQuery, vars)
}

// FetchExportPage retrieves one page for the CSV export: always a full fetch,
// with cost breakdowns included.
func (c *Client) FetchExportPage(ctx context.Context, eventID string, limit, offset int) (*EventPage, []GraphQLError, error) {
	vars := map[string]interface{}{
		"eventId": eventID,
		"limit":   limit,
		"offset":  offset,
	}
	return c.query(ctx, exportQuery, vars)
}

func (c *Client) query(ctx context.Context, query string, vars map[string]interface{}) (*EventPage, []GraphQLError, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("query: unexpected status %s", resp.Status)
	}

	var body struct {
		Data *struct {
			Event *EventPage `json:"event"`
		} `json:"data"`
		Errors []GraphQLError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}

	if body.Data == nil || body.Data.Event == nil {
		return nil, body.Errors, ErrNoEventData
	}
	return body.Data.Event, body.Errors, nil
}
