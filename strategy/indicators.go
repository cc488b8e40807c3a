package strategy

import "math"

// SMA computes a simple moving average over a fixed window. Entries before the
// window has enough history are NaN and get dropped by the rule evaluation.
func SMA(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 || window > len(xs) {
		return out
	}
	sum := 0.0
	for i, v := range xs {
		sum += v
		if i >= window {
			sum -= xs[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RSI computes the Relative Strength Index over a fixed period from price
// levels, using the rolling average gain / average loss ratio:
//
//	RSI = 100 - 100/(1 + avgGain/avgLoss)
//
// The first valid value sits at index period; everything earlier is NaN since
// the first price delta is undefined.
func RSI(prices []float64, period int) []float64 {
	n := len(prices)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || n < period+1 {
		return out
	}
	gain := make([]float64, n)
	loss := make([]float64, n)
	for i := 1; i < n; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain[i] = d
		} else {
			loss[i] = -d
		}
	}
	var sumG, sumL float64
	for i := 1; i < n; i++ {
		sumG += gain[i]
		sumL += loss[i]
		if i > period {
			sumG -= gain[i-period]
			sumL -= loss[i-period]
		}
		if i >= period {
			rs := (sumG / float64(period)) / (sumL / float64(period))
			out[i] = 100.0 - 100.0/(1.0+rs)
		}
	}
	return out
}
