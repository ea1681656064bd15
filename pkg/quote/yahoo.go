package quote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// YahooSource reads regularMarketPrice from the Yahoo Finance chart API.
type YahooSource struct {
	client *resty.Client
}

func NewYahooSource(baseURL string, timeout time.Duration) *YahooSource {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "Mozilla/5.0 (papertrade)")
	return &YahooSource{client: c}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string           `json:"symbol"`
				Currency           string           `json:"currency"`
				RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooSource) Price(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	var out chartResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{"interval": "1d", "range": "1d"}).
		SetResult(&out).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	if resp.IsError() {
		return decimal.Zero, false, fmt.Errorf("quote %s: http %d", symbol, resp.StatusCode())
	}
	if out.Chart.Error != nil || len(out.Chart.Result) == 0 {
		return decimal.Zero, false, nil
	}
	p := out.Chart.Result[0].Meta.RegularMarketPrice
	if p == nil || !p.IsPositive() {
		return decimal.Zero, false, nil
	}
	return *p, true, nil
}
