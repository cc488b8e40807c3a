// Package strategy derives discrete trading positions from price indicators
// and scores them against realised returns.
package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/stat"
)

// Rule selects a strategy family.
type Rule string

const (
	SMALongOnly  Rule = "sma_long_only"
	SMAShortOnly Rule = "sma_short_only"
	SMALongShort Rule = "sma_long_short"
	RSILongOnly  Rule = "rsi_long_only"
	RSIShortOnly Rule = "rsi_short_only"
	RSILongShort Rule = "rsi_long_short"
	TripleSMA    Rule = "triple_sma"
)

// Rules lists every strategy family in sweep order.
var Rules = []Rule{SMALongOnly, SMAShortOnly, SMALongShort, RSILongOnly, RSIShortOnly, RSILongShort, TripleSMA}

// Params collects the indicator and scoring configuration for one evaluation.
// The dual-SMA families use Fast and Slow; TripleSMA uses Fast, Slow and Trend
// as its fast/mid/slow windows.
type Params struct {
	Fast       int
	Slow       int
	Trend      int
	RSIPeriod  int
	Oversold   float64
	Overbought float64
	RiskFree   float64
}

// DefaultParams mirrors the reference configuration: SMA(7,14), trend window
// 21, RSI(14) with 30/70 thresholds, 6.5% risk-free rate.
func DefaultParams() Params {
	return Params{Fast: 7, Slow: 14, Trend: 21, RSIPeriod: 14, Oversold: 30, Overbought: 70, RiskFree: 0.065}
}

// Result is the full decision table plus summary metrics for one strategy run.
// It is created fresh per invocation and never mutated after return.
type Result struct {
	Name       string
	Dates      []time.Time
	Price      []float64
	Ret        []float64
	Indicators map[string][]float64
	Position   []int
	Signal     []string
	AlgoRet    []float64

	AnnReturn     float64
	AnnVol        float64
	Sharpe        float64
	SharpeDefined bool
	Trades        float64
}

const tradingDays = 252.0

// Evaluate runs one strategy family over a price series and its aligned return
// series. Pure function of its inputs: same series and params always produce
// the same result.
func Evaluate(prices data.PriceSeries, returns data.ReturnSeries, rule Rule, p Params) (Result, error) {
	n := prices.Len()
	if len(returns.Rets) != n-1 {
		return Result{}, fmt.Errorf("returns length %v does not match prices length %v", len(returns.Rets), n)
	}

	// Full-length return column; index 0 has no return defined.
	ret := make([]float64, n)
	ret[0] = math.NaN()
	copy(ret[1:], returns.Rets)

	var (
		name string
		ind  map[string][]float64
		pos  func(i, prev int) int
		sig  []string
	)

	switch rule {
	case SMALongOnly, SMAShortOnly, SMALongShort:
		fast := SMA(prices.Close, p.Fast)
		slow := SMA(prices.Close, p.Slow)
		ind = map[string][]float64{"SMA_Fast": fast, "SMA_Slow": slow}
		switch rule {
		case SMALongOnly:
			name = fmt.Sprintf("SMA(%v,%v) Long-Only", p.Fast, p.Slow)
			pos = func(i, _ int) int {
				if fast[i] >= slow[i] {
					return 1
				}
				return 0
			}
		case SMAShortOnly:
			name = fmt.Sprintf("SMA(%v,%v) Short-Only", p.Fast, p.Slow)
			pos = func(i, _ int) int {
				if fast[i] < slow[i] {
					return -1
				}
				return 0
			}
		default:
			name = fmt.Sprintf("SMA(%v,%v) Long-Short", p.Fast, p.Slow)
			pos = func(i, _ int) int {
				if fast[i] >= slow[i] {
					return 1
				}
				return -1
			}
		}
	case RSILongOnly, RSIShortOnly, RSILongShort:
		rsi := RSI(prices.Close, p.RSIPeriod)
		ind = map[string][]float64{"RSI": rsi}
		name = fmt.Sprintf("RSI(%v)[%v,%v] ", p.RSIPeriod, p.Oversold, p.Overbought)
		switch rule {
		case RSILongOnly:
			name += "Long-Only"
			pos = func(i, prev int) int {
				switch {
				case rsi[i] <= p.Oversold:
					return 1
				case rsi[i] >= p.Overbought:
					return 0
				default:
					return prev
				}
			}
		case RSIShortOnly:
			name += "Short-Only"
			pos = func(i, prev int) int {
				switch {
				case rsi[i] >= p.Overbought:
					return -1
				case rsi[i] <= p.Oversold:
					return 0
				default:
					return prev
				}
			}
		default:
			name += "Long-Short"
			pos = func(i, prev int) int {
				switch {
				case rsi[i] <= p.Oversold:
					return 1
				case rsi[i] >= p.Overbought:
					return -1
				default:
					return prev
				}
			}
		}
	case TripleSMA:
		fast := SMA(prices.Close, p.Fast)
		mid := SMA(prices.Close, p.Slow)
		slow := SMA(prices.Close, p.Trend)
		ind = map[string][]float64{
			fmt.Sprintf("SMA%v", p.Fast):  fast,
			fmt.Sprintf("SMA%v", p.Slow):  mid,
			fmt.Sprintf("SMA%v", p.Trend): slow,
		}
		name = fmt.Sprintf("Custom Triple SMA (%v,%v,%v)", p.Fast, p.Slow, p.Trend)
		pos = func(i, prev int) int {
			aligned := fast[i] > mid[i] && mid[i] > slow[i]
			midCrossDown := mid[i] < slow[i] && mid[i-1] >= slow[i-1]
			switch {
			case prev == 0 && aligned:
				return 1
			case prev == 1 && midCrossDown:
				return 0
			default:
				return prev
			}
		}
	default:
		return Result{}, fmt.Errorf("unknown strategy rule %q", rule)
	}

	// Drop warm-up rows: keep the contiguous tail where every indicator and
	// the return column are defined.
	start := 1
	for _, col := range ind {
		first := -1
		for i := 0; i < n; i++ {
			if !math.IsNaN(col[i]) {
				first = i
				break
			}
		}
		if first < 0 {
			return Result{}, fmt.Errorf("strategy %v: %w", rule, data.ErrInsufficientData)
		}
		if first > start {
			start = first
		}
	}
	if start >= n || n-start < 2 {
		return Result{}, fmt.Errorf("strategy %v: %w", rule, data.ErrInsufficientData)
	}

	m := n - start
	res := Result{
		Name:       name,
		Dates:      append([]time.Time(nil), prices.Dates[start:]...),
		Price:      append([]float64(nil), prices.Close[start:]...),
		Ret:        append([]float64(nil), ret[start:]...),
		Indicators: map[string][]float64{},
		Position:   make([]int, m),
		AlgoRet:    make([]float64, m),
	}
	for k, col := range ind {
		res.Indicators[k] = append([]float64(nil), col[start:]...)
	}

	// Single left-to-right scan carrying forward the previous bar's position.
	// Stateless rules decide every bar including the first; stateful rules
	// initialise flat.
	stateful := rule == RSILongOnly || rule == RSIShortOnly || rule == RSILongShort || rule == TripleSMA
	for i := 0; i < m; i++ {
		if i == 0 && stateful {
			res.Position[i] = 0
			continue
		}
		prev := 0
		if i > 0 {
			prev = res.Position[i-1]
		}
		res.Position[i] = pos(start+i, prev)
	}
	if rule == TripleSMA {
		sig = make([]string, m)
		for i := 0; i < m; i++ {
			prev := 0
			if i > 0 {
				prev = res.Position[i-1]
			}
			switch {
			case res.Position[i] == 1 && prev == 0:
				sig[i] = "Entry"
			case res.Position[i] == 0 && prev == 1:
				sig[i] = "Exit"
			default:
				sig[i] = "Hold"
			}
		}
		res.Signal = sig
	}

	// Per-bar attribution: realised return times the position held that bar.
	for i := 0; i < m; i++ {
		res.AlgoRet[i] = res.Ret[i] * float64(res.Position[i])
	}

	res.AnnReturn, res.AnnVol, res.Sharpe, res.SharpeDefined = Metrics(res.AlgoRet, p.RiskFree)
	res.Trades = tradeCount(res.Position, res.Signal, rule)
	return res, nil
}

// Metrics annualises a per-bar strategy return series. Zero volatility leaves
// the Sharpe ratio undefined; it is reported as NaN with defined=false rather
// than raised as an error.
func Metrics(algoRet []float64, riskFree float64) (annRet, annVol, sharpe float64, defined bool) {
	mean, std := stat.MeanStdDev(algoRet, nil)
	annRet = math.Pow(mean+1.0, tradingDays) - 1.0
	annVol = std * math.Sqrt(tradingDays)
	if annVol == 0 || math.IsNaN(annVol) {
		return annRet, annVol, math.NaN(), false
	}
	return annRet, annVol, (annRet - riskFree) / annVol, true
}

// tradeCount sums absolute position changes. A long-short flip from +1 to -1
// is one trade, not two, so those families halve the diff sum. TripleSMA
// counts entries directly.
func tradeCount(pos []int, sig []string, rule Rule) float64 {
	if rule == TripleSMA {
		n := 0.0
		for _, s := range sig {
			if s == "Entry" {
				n++
			}
		}
		return n
	}
	sum := 0.0
	for i := 1; i < len(pos); i++ {
		sum += math.Abs(float64(pos[i] - pos[i-1]))
	}
	if rule == SMALongShort || rule == RSILongShort {
		sum /= 2.0
	}
	return sum
}
