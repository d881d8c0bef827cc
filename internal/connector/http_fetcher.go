package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
)

// HTTPFetcher pulls rows from an HTTP endpoint returning a JSON array of
// flat string-valued objects. The endpoint receives the cycle date as a
// query parameter and must respond with the full slice for that date.
type HTTPFetcher struct {
	name    string
	side    shared.SourceSide
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(name string, side shared.SourceSide, baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		name:    name,
		side:    side,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Name() string            { return f.name }
func (f *HTTPFetcher) Side() shared.SourceSide { return f.side }

func (f *HTTPFetcher) Fetch(ctx context.Context, cycleDate string) ([]*staging.RawRow, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url for %s: %w", f.name, err)
	}
	q := u.Query()
	q.Set("cycle_date", cycleDate)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request for %s: %w", f.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s failed: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch from %s returned status %d: %s", f.name, resp.StatusCode, string(body))
	}

	var raw []map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode rows from %s: %w", f.name, err)
	}

	now := time.Now().UTC()
	rows := make([]*staging.RawRow, 0, len(raw))
	for _, fields := range raw {
		rows = append(rows, &staging.RawRow{
			ID:         uuid.New(),
			Side:       f.side,
			CycleDate:  cycleDate,
			MerchantID: fields["merchant_id"],
			AcquirerID: fields["acquirer_id"],
			Fields:     fields,
			FetchedAt:  now,
		})
	}
	return rows, nil
}
