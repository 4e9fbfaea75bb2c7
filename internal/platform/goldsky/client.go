package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// Client is a GraphQL client for a Goldsky-hosted subgraph that indexes
// price submissions to an on-chain reporter feed. It backs the median oracle.
type Client struct {
	graphqlURL string
	apiKey     string
	feedID     string
	httpClient *http.Client
}

var _ domain.FeedSource = (*Client)(nil)

// NewClient creates a new Goldsky GraphQL client for the feed identified by
// feedID.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/price-feeds/gn".
func NewClient(graphqlURL, apiKey, feedID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		feedID:     feedID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// LatestReports returns the newest `limit` price submissions of the feed,
// newest first.
func (c *Client) LatestReports(ctx context.Context, limit int) ([]domain.PriceReport, error) {
	query := `
		query LatestReports($feed: String!, $first: Int!) {
			priceReports(
				first: $first
				orderBy: timestamp
				orderDirection: desc
				where: { feed: $feed }
			) {
				price
				timestamp
				reporter
			}
		}
	`

	variables := map[string]any{
		"feed":  c.feedID,
		"first": limit,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch price reports: %w", err)
	}

	var result struct {
		PriceReports []struct {
			Price     string `json:"price"`
			Timestamp string `json:"timestamp"`
			Reporter  string `json:"reporter"`
		} `json:"priceReports"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode price reports: %w", err)
	}

	reports := make([]domain.PriceReport, 0, len(result.PriceReports))
	for _, r := range result.PriceReports {
		price, err := domain.ParseAmount(r.Price)
		if err != nil {
			return nil, fmt.Errorf("goldsky: report from %s: %w", r.Reporter, err)
		}
		ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("goldsky: report from %s: bad timestamp %q", r.Reporter, r.Timestamp)
		}
		reports = append(reports, domain.PriceReport{
			Price:     price,
			Timestamp: time.Unix(ts, 0).UTC(),
			Reporter:  r.Reporter,
		})
	}

	return reports, nil
}

// FetchLatestBlock returns the latest block number indexed by the Goldsky
// subgraph. The health endpoint reports it as the feed's indexing head.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query against the Goldsky endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
