package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Source fetches the base USD to KES rate.
type Source interface {
	FetchBase(ctx context.Context) (decimal.Decimal, error)
}

// HTTPSource reads an open exchange-rate API returning
// {"result":"success","rates":{"KES":129.1,...}}.
type HTTPSource struct {
	url     string
	timeout time.Duration
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{url: url, timeout: timeout}
}

type ratesResponse struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

func (s *HTTPSource) FetchBase(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	agent := fiber.Get(s.url)
	agent.Timeout(requestTimeout(ctx, s.timeout))
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return decimal.Zero, fmt.Errorf("rate request failed: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source returned %d", code)
	}

	var resp ratesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode rates: %w", err)
	}
	if resp.Result != "" && resp.Result != "success" {
		return decimal.Zero, fmt.Errorf("rate source result %q", resp.Result)
	}
	kes, ok := resp.Rates["KES"]
	if !ok || !kes.IsPositive() {
		return decimal.Zero, errors.New("rate source has no KES rate")
	}
	return kes, nil
}

// requestTimeout bounds an outbound call by the context deadline.
func requestTimeout(ctx context.Context, max time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < max {
			return left
		}
	}
	return max
}
