package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse(Layout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func days(ss ...string) []time.Time {
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = day(s)
	}
	return out
}

func TestPriceSeriesReturns(t *testing.T) {
	s := PriceSeries{
		Dates: days("2024-01-01", "2024-01-02", "2024-01-03"),
		Close: []float64{100.0, 110.0, 99.0},
	}
	r, err := s.Returns()
	require.NoError(t, err)
	require.Len(t, r.Rets, 2)
	require.InDelta(t, 0.10, r.Rets[0], 1e-12)
	require.InDelta(t, -0.10, r.Rets[1], 1e-12)
	require.Equal(t, day("2024-01-02"), r.Dates[0])
}

func TestPriceSeriesReturnsTooShort(t *testing.T) {
	s := PriceSeries{Dates: days("2024-01-01"), Close: []float64{100.0}}
	_, err := s.Returns()
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestNewPricePanelInnerJoin(t *testing.T) {
	series := map[string]PriceSeries{
		"TSLA": {
			Dates: days("2024-01-01", "2024-01-02", "2024-01-03"),
			Close: []float64{200.0, 210.0, 220.0},
		},
		"AAPL": {
			Dates: days("2024-01-02", "2024-01-03", "2024-01-04"),
			Close: []float64{101.0, 102.0, 103.0},
		},
	}
	p, err := NewPricePanel(series)
	require.NoError(t, err)

	// Sorted tickers, only the two common dates survive.
	require.Equal(t, []string{"AAPL", "TSLA"}, p.Tickers)
	require.Equal(t, days("2024-01-02", "2024-01-03"), p.Dates)
	require.Equal(t, []float64{101.0, 102.0}, p.Close["AAPL"])
	require.Equal(t, []float64{210.0, 220.0}, p.Close["TSLA"])
}

func TestNewPricePanelNoOverlap(t *testing.T) {
	series := map[string]PriceSeries{
		"A": {Dates: days("2024-01-01"), Close: []float64{1.0}},
		"B": {Dates: days("2024-01-02"), Close: []float64{2.0}},
	}
	_, err := NewPricePanel(series)
	require.ErrorIs(t, err, ErrNoData)
}

func TestPanelReturnsAlignment(t *testing.T) {
	p := PricePanel{
		Tickers: []string{"A", "B"},
		Dates:   days("2024-01-01", "2024-01-02", "2024-01-03"),
		Close: map[string][]float64{
			"A": {100.0, 120.0, 120.0},
			"B": {50.0, 50.0, 55.0},
		},
	}
	r, err := p.Returns()
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())
	require.Equal(t, days("2024-01-02", "2024-01-03"), r.Dates)
	require.InDelta(t, 0.20, r.Rets["A"][0], 1e-12)
	require.InDelta(t, 0.10, r.Rets["B"][1], 1e-12)
}

func TestReturnPanelSelectAndMatrix(t *testing.T) {
	p := ReturnPanel{
		Tickers: []string{"A", "B", "C"},
		Dates:   days("2024-01-02", "2024-01-03"),
		Rets: map[string][]float64{
			"A": {0.01, 0.02},
			"B": {0.03, 0.04},
			"C": {0.05, 0.06},
		},
	}
	sub, err := p.Select([]string{"C", "A"})
	require.NoError(t, err)
	require.Equal(t, []string{"C", "A"}, sub.Tickers)

	rows := sub.Matrix()
	require.Len(t, rows, 2)
	require.Equal(t, []float64{0.05, 0.01}, rows[0])
	require.Equal(t, []float64{0.06, 0.02}, rows[1])

	_, err = p.Select([]string{"ZZ"})
	require.Error(t, err)
}
