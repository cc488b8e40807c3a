package data

import (
	"errors"
	"sort"
	"time"
)

const Layout = "2006-01-02"

var (
	// ErrNoData is returned when a provider yields no observations for a request.
	ErrNoData = errors.New("no price data available")
	// ErrInsufficientData is returned when a series is shorter than the minimum
	// window or lag order a computation requires.
	ErrInsufficientData = errors.New("insufficient observations")
)

// PriceSeries holds adjusted close prices for one instrument, sorted by date.
// Prices are strictly positive; the series is never mutated after construction.
type PriceSeries struct {
	Dates []time.Time
	Close []float64
}

// ReturnSeries holds simple percentage returns. The date at index i is the
// date the return was realised, i.e. the later of the two observations.
type ReturnSeries struct {
	Dates []time.Time
	Rets  []float64
}

// PricePanel is a date-aligned table of close prices, one column per instrument.
type PricePanel struct {
	Tickers []string
	Dates   []time.Time
	Close   map[string][]float64
}

// ReturnPanel is a date-aligned table of simple returns.
type ReturnPanel struct {
	Tickers []string
	Dates   []time.Time
	Rets    map[string][]float64
}

func (s PriceSeries) Len() int { return len(s.Close) }

// Returns computes simple percentage change between consecutive observations.
// The first observation has no return and is dropped.
func (s PriceSeries) Returns() (ReturnSeries, error) {
	if s.Len() < 2 {
		return ReturnSeries{}, ErrInsufficientData
	}
	out := ReturnSeries{
		Dates: make([]time.Time, s.Len()-1),
		Rets:  make([]float64, s.Len()-1),
	}
	for i := 1; i < s.Len(); i++ {
		out.Dates[i-1] = s.Dates[i]
		out.Rets[i-1] = s.Close[i]/s.Close[i-1] - 1.0
	}
	return out, nil
}

// NewPricePanel inner-joins per-instrument series on their common dates. Only
// dates present for every instrument survive. Ticker order is sorted for
// deterministic column order downstream.
func NewPricePanel(series map[string]PriceSeries) (PricePanel, error) {
	if len(series) == 0 {
		return PricePanel{}, ErrNoData
	}
	var tickers []string
	for k := range series {
		tickers = append(tickers, k)
	}
	sort.Strings(tickers)

	counts := map[time.Time]int{}
	for _, s := range series {
		for _, d := range s.Dates {
			counts[d]++
		}
	}
	var dates []time.Time
	for d, c := range counts {
		if c == len(series) {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return PricePanel{}, ErrNoData
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	px := map[string][]float64{}
	for _, tk := range tickers {
		s := series[tk]
		lookup := make(map[time.Time]float64, s.Len())
		for i, d := range s.Dates {
			lookup[d] = s.Close[i]
		}
		col := make([]float64, len(dates))
		for i, d := range dates {
			col[i] = lookup[d]
		}
		px[tk] = col
	}
	return PricePanel{Tickers: tickers, Dates: dates, Close: px}, nil
}

func (p PricePanel) Len() int { return len(p.Dates) }

// Series extracts a single instrument's price series from the aligned panel.
func (p PricePanel) Series(ticker string) (PriceSeries, bool) {
	px, ok := p.Close[ticker]
	if !ok {
		return PriceSeries{}, false
	}
	return PriceSeries{Dates: p.Dates, Close: px}, true
}

// Returns converts the aligned price panel into an aligned return panel.
func (p PricePanel) Returns() (ReturnPanel, error) {
	if p.Len() < 2 {
		return ReturnPanel{}, ErrInsufficientData
	}
	out := ReturnPanel{
		Tickers: append([]string(nil), p.Tickers...),
		Dates:   append([]time.Time(nil), p.Dates[1:]...),
		Rets:    map[string][]float64{},
	}
	for _, tk := range p.Tickers {
		px := p.Close[tk]
		rt := make([]float64, len(px)-1)
		for i := 1; i < len(px); i++ {
			rt[i-1] = px[i]/px[i-1] - 1.0
		}
		out.Rets[tk] = rt
	}
	return out, nil
}

func (p ReturnPanel) Len() int { return len(p.Dates) }

// Series extracts one instrument's return series from the panel.
func (p ReturnPanel) Series(ticker string) (ReturnSeries, bool) {
	rt, ok := p.Rets[ticker]
	if !ok {
		return ReturnSeries{}, false
	}
	return ReturnSeries{Dates: p.Dates, Rets: rt}, true
}

// Select restricts the panel to the given tickers, preserving request order.
func (p ReturnPanel) Select(tickers []string) (ReturnPanel, error) {
	out := ReturnPanel{Dates: p.Dates, Rets: map[string][]float64{}}
	for _, tk := range tickers {
		rt, ok := p.Rets[tk]
		if !ok {
			return ReturnPanel{}, errors.New("ticker not in panel: " + tk)
		}
		out.Tickers = append(out.Tickers, tk)
		out.Rets[tk] = rt
	}
	return out, nil
}

// Matrix lays the panel out as a row-per-observation, column-per-ticker slice
// of rows, the shape the gonum estimators consume.
func (p ReturnPanel) Matrix() [][]float64 {
	rows := make([][]float64, p.Len())
	for i := range rows {
		row := make([]float64, len(p.Tickers))
		for j, tk := range p.Tickers {
			row[j] = p.Rets[tk][i]
		}
		rows[i] = row
	}
	return rows
}
