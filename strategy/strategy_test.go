package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/stretchr/testify/require"
)

func makeSeries(closes []float64) (data.PriceSeries, data.ReturnSeries) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, len(closes))
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	s := data.PriceSeries{Dates: dates, Close: closes}
	r, err := s.Returns()
	if err != nil {
		panic(err)
	}
	return s, r
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.True(t, math.IsNaN(got[0]))
	require.True(t, math.IsNaN(got[1]))
	require.InDelta(t, 2.0, got[2], 1e-12)
	require.InDelta(t, 3.0, got[3], 1e-12)
	require.InDelta(t, 4.0, got[4], 1e-12)
}

func TestSMAWindowTooLarge(t *testing.T) {
	got := SMA([]float64{1, 2}, 5)
	for _, v := range got {
		require.True(t, math.IsNaN(v))
	}
}

func TestRSIExtremes(t *testing.T) {
	up := RSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.True(t, math.IsNaN(up[2]))
	for i := 3; i < len(up); i++ {
		require.InDelta(t, 100.0, up[i], 1e-9)
	}
	down := RSI([]float64{6, 5, 4, 3, 2, 1}, 3)
	for i := 3; i < len(down); i++ {
		require.InDelta(t, 0.0, down[i], 1e-9)
	}
}

func TestEvaluatePositionMembership(t *testing.T) {
	closes := []float64{
		100, 102, 101, 104, 103, 107, 106, 110, 108, 105,
		103, 100, 98, 101, 99, 97, 100, 103, 105, 104,
		108, 111, 109, 113, 112, 116, 114, 118, 117, 121,
	}
	prices, rets := makeSeries(closes)
	p := Params{Fast: 3, Slow: 5, Trend: 7, RSIPeriod: 5, Oversold: 30, Overbought: 70, RiskFree: 0.065}

	allowed := map[Rule]map[int]bool{
		SMALongOnly:  {0: true, 1: true},
		SMAShortOnly: {-1: true, 0: true},
		SMALongShort: {-1: true, 1: true},
		RSILongOnly:  {0: true, 1: true},
		RSIShortOnly: {-1: true, 0: true},
		RSILongShort: {-1: true, 0: true, 1: true},
		TripleSMA:    {0: true, 1: true},
	}
	for _, rule := range Rules {
		rule := rule
		t.Run(string(rule), func(t *testing.T) {
			res, err := Evaluate(prices, rets, rule, p)
			require.NoError(t, err)
			require.Equal(t, len(res.Dates), len(res.Position))
			require.Equal(t, len(res.Dates), len(res.AlgoRet))
			for i, pos := range res.Position {
				require.Truef(t, allowed[rule][pos], "position %v at bar %v not allowed for %v", pos, i, rule)
			}
			for i := range res.AlgoRet {
				require.InDelta(t, res.Ret[i]*float64(res.Position[i]), res.AlgoRet[i], 1e-12)
			}
		})
	}
}

func TestEvaluateLongOnlyTrendingMarket(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100.0 + float64(i)
	}
	prices, rets := makeSeries(up)
	p := DefaultParams()
	p.Fast, p.Slow = 3, 5

	res, err := Evaluate(prices, rets, SMALongOnly, p)
	require.NoError(t, err)
	for _, pos := range res.Position {
		require.Equal(t, 1, pos)
	}
	require.Zero(t, res.Trades)

	short, err := Evaluate(prices, rets, SMAShortOnly, p)
	require.NoError(t, err)
	for _, pos := range short.Position {
		require.Equal(t, 0, pos)
	}
}

func TestEvaluateRSICarryForward(t *testing.T) {
	// A hard sell-off drives RSI to zero, triggering entry; the following small
	// symmetric oscillation keeps RSI at 50 so the long is carried, not closed.
	closes := []float64{100, 96, 92, 88, 84, 80, 80.5, 80, 80.5, 80, 80.5, 80}
	prices, rets := makeSeries(closes)
	p := Params{Fast: 3, Slow: 5, Trend: 7, RSIPeriod: 2, Oversold: 30, Overbought: 70, RiskFree: 0.065}

	res, err := Evaluate(prices, rets, RSILongOnly, p)
	require.NoError(t, err)
	last := res.Position[len(res.Position)-1]
	require.Equal(t, 1, last)

	entered := false
	for i, pos := range res.Position {
		if pos == 1 && !entered {
			entered = true
		}
		if entered {
			require.Equalf(t, 1, pos, "long dropped at bar %v without an overbought exit", i)
		}
	}
	require.True(t, entered)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	prices, rets := makeSeries([]float64{100, 101, 102, 103})
	_, err := Evaluate(prices, rets, SMALongOnly, DefaultParams())
	require.ErrorIs(t, err, data.ErrInsufficientData)
}

func TestEvaluateUnknownRule(t *testing.T) {
	prices, rets := makeSeries([]float64{100, 101, 102, 103, 104, 105})
	_, err := Evaluate(prices, rets, Rule("momentum"), DefaultParams())
	require.Error(t, err)
}

func TestMetricsZeroVolatility(t *testing.T) {
	annRet, annVol, sharpe, defined := Metrics([]float64{0.001, 0.001, 0.001}, 0.065)
	require.InDelta(t, math.Pow(1.001, 252)-1.0, annRet, 1e-9)
	require.Zero(t, annVol)
	require.True(t, math.IsNaN(sharpe))
	require.False(t, defined)
}

func TestTradeCount(t *testing.T) {
	cases := []struct {
		name string
		pos  []int
		rule Rule
		want float64
	}{
		{"long only entries and exits", []int{0, 1, 1, 0, 1}, SMALongOnly, 3},
		{"long short flips halved", []int{1, -1, 1, -1}, SMALongShort, 3},
		{"no change", []int{1, 1, 1}, RSILongOnly, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tradeCount(tc.pos, nil, tc.rule))
		})
	}
}

func TestTripleSMASignals(t *testing.T) {
	// Flat, then a sharp rally to force fast>mid>slow alignment, then a crash to
	// cross the mid average back below the slow one.
	closes := []float64{
		100, 100, 100, 100, 100, 100, 100, 100,
		102, 105, 109, 114, 120, 127, 135, 144,
		130, 116, 102, 88, 74, 60, 50, 45,
	}
	prices, rets := makeSeries(closes)
	p := Params{Fast: 3, Slow: 5, Trend: 7, RSIPeriod: 5, Oversold: 30, Overbought: 70, RiskFree: 0.065}

	res, err := Evaluate(prices, rets, TripleSMA, p)
	require.NoError(t, err)
	require.Equal(t, len(res.Position), len(res.Signal))

	entries, exits := 0, 0
	for i, s := range res.Signal {
		switch s {
		case "Entry":
			entries++
			require.Equal(t, 1, res.Position[i])
		case "Exit":
			exits++
			require.Equal(t, 0, res.Position[i])
		case "Hold":
		default:
			t.Fatalf("unexpected signal %q", s)
		}
	}
	require.Equal(t, 1, entries)
	require.Equal(t, 1, exits)
	require.Equal(t, float64(entries), res.Trades)
}
