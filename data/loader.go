package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Provider is the market-data acquisition boundary. Implementations return a
// table of adjusted close prices indexed by date for the requested tickers.
// Illiquid symbols or network failures may yield empty or partial panels; the
// analytics engines treat an empty panel as a reported condition, not a crash.
type Provider interface {
	Prices(ctx context.Context, tickers []string, start, end time.Time) (PricePanel, error)
}

// YahooProvider fetches daily adjusted closes from the Yahoo Finance chart API.
type YahooProvider struct {
	Client *http.Client
}

func NewYahooProvider() *YahooProvider {
	return &YahooProvider{Client: &http.Client{Timeout: 30 * time.Second}}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Adjclose []struct {
					Adjclose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Prices fetches each ticker concurrently and inner-joins the results on their
// common dates. Tickers with no usable observations are dropped; an entirely
// empty result reports ErrNoData.
func (y *YahooProvider) Prices(ctx context.Context, tickers []string, start, end time.Time) (PricePanel, error) {
	if len(tickers) == 0 {
		return PricePanel{}, ErrNoData
	}
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		series = map[string]PriceSeries{}
	)
	for _, tk := range tickers {
		wg.Add(1)
		go func(tk string) {
			defer wg.Done()
			s, err := y.fetchOne(ctx, tk, start, end)
			if err != nil || s.Len() == 0 {
				return
			}
			mu.Lock()
			series[tk] = s
			mu.Unlock()
		}(tk)
	}
	wg.Wait()
	return NewPricePanel(series)
}

func (y *YahooProvider) fetchOne(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%v?period1=%v&period2=%v&interval=1d&events=div%%2Csplit",
		ticker, start.Unix(), end.Unix())
	resp, err := get(ctx, y.Client, url, chartResponse{})
	if err != nil {
		return PriceSeries{}, err
	}
	if resp.Chart.Error != nil {
		return PriceSeries{}, fmt.Errorf("chart api: %v", resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return PriceSeries{}, ErrNoData
	}
	res := resp.Chart.Result[0]
	if len(res.Indicators.Adjclose) == 0 {
		return PriceSeries{}, ErrNoData
	}
	closes := res.Indicators.Adjclose[0].Adjclose
	var s PriceSeries
	for i, ts := range res.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		d, _ := time.Parse(Layout, time.Unix(ts, 0).UTC().Format(Layout))
		s.Dates = append(s.Dates, d)
		s.Close = append(s.Close, *closes[i])
	}
	return s, nil
}

// helper function to get the http request and store into struct
// input: link, and the target struct type
func get[DataType chartResponse](ctx context.Context, client *http.Client, url string, target DataType) (result DataType, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return target, err
	}
	req.Header.Set("User-Agent", "banklens/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return target, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return target, fmt.Errorf("http status %v for %v", resp.StatusCode, url)
	}
	err = json.NewDecoder(resp.Body).Decode(&target)
	if err != nil {
		return
	}
	result = target
	return result, nil
}
