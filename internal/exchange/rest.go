package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/econia-labs/econia-sub002/internal/utils"
)

// DefaultSnapshotDepth is the depth requested when the caller does not set
// one. Apply cost is linear in this bound.
const DefaultSnapshotDepth = 60

// SnapshotLoader fetches the point-in-time depth used to seed a book.
type SnapshotLoader interface {
	FetchOrderbook(ctx context.Context, marketID uint64, depth int) (OrderbookSnapshot, error)
}

// RestClient talks to the indexer REST API.
type RestClient struct {
	baseURL string
	client  *http.Client
}

func NewRestClient(baseURL string) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// retry wraps a function with retry logic for transient errors, using
// exponential backoff and error logging.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.GetLogger().Printf("Rest | Retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}
		}
	}
	return errors.New("all retry attempts failed")
}

// FetchOrderbook retrieves the current depth for a market. The response is
// the raw snapshot; Seed on the book normalizes it.
func (c *RestClient) FetchOrderbook(ctx context.Context, marketID uint64, depth int) (OrderbookSnapshot, error) {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}
	url := fmt.Sprintf("%s/markets/%d/orderbook?depth=%d", c.baseURL, marketID, depth)

	var snap OrderbookSnapshot
	err := retry(ctx, 3, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("snapshot request for market %d failed: %s: %s", marketID, resp.Status, body)
		}
		return json.NewDecoder(resp.Body).Decode(&snap)
	})
	if err != nil {
		return OrderbookSnapshot{}, fmt.Errorf("fetch orderbook for market %d: %w", marketID, err)
	}
	return snap, nil
}
