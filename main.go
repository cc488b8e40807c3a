package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/banachtech/banklens/api"
	"github.com/banachtech/banklens/data"
	"github.com/banachtech/banklens/dynamics"
	"github.com/banachtech/banklens/garch"
	"github.com/banachtech/banklens/portfolio"
	"github.com/banachtech/banklens/strategy"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
)

func main() {
	// Optional .env for local runs; real deployments set the variables directly.
	_ = godotenv.Load()

	serve := flag.String("serve", "", "serve the HTTP API on this address instead of running the report")
	apiKey := flag.String("key", os.Getenv("BANKLENS_API_KEY"), "bearer API key for the HTTP API")
	tickers := flag.String("tickers", "AAPL,TSLA,META", "comma-separated instruments")
	years := flag.Int("years", 2, "lookback window in years")
	flag.Parse()

	provider := data.NewYahooProvider()

	if *serve != "" {
		if *apiKey == "" {
			fmt.Println("no API key: set -key or BANKLENS_API_KEY")
			os.Exit(-1)
		}
		server := api.NewServer(provider, *apiKey)
		if err := server.Start(*serve); err != nil {
			fmt.Println(err)
			os.Exit(-1)
		}
		return
	}

	stocks := format(strings.Split(*tickers, ","))
	end := time.Now()
	start := end.AddDate(-*years, 0, 0)

	ctx := context.Background()
	prices, err := provider.Prices(ctx, stocks, start, end)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	returns, err := prices.Returns()
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}

	fmt.Printf("loaded %v observations for %v\n", prices.Len(), strings.Join(stocks, ", "))

	runStrategies(prices, returns, stocks)
	runPortfolio(returns)
	runVolatility(ctx, returns)
	runDynamics(returns, stocks)
}

func runStrategies(prices data.PricePanel, returns data.ReturnPanel, stocks []string) {
	fmt.Println("\n== trading rules ==")
	params := strategy.DefaultParams()
	bar := progressbar.Default(int64(len(stocks) * len(strategy.Rules)))
	for _, tk := range stocks {
		ps, _ := prices.Series(tk)
		rs, err := ps.Returns()
		if err != nil {
			fmt.Println(err)
			os.Exit(-1)
		}
		for _, rule := range strategy.Rules {
			res, err := strategy.Evaluate(ps, rs, rule, params)
			bar.Add(1)
			if err != nil {
				fmt.Printf("%v %v: %v\n", tk, rule, err)
				continue
			}
			sharpe := "n/a"
			if res.SharpeDefined {
				sharpe = fmt.Sprintf("%.2f", res.Sharpe)
			}
			fmt.Printf("%v %-16v ann.ret %7.2f%%  ann.vol %6.2f%%  sharpe %v  trades %v\n",
				tk, rule, 100*res.AnnReturn, 100*res.AnnVol, sharpe, res.Trades)
		}
	}
}

func runPortfolio(returns data.ReturnPanel) {
	fmt.Println("\n== long-only allocation ==")
	minVar, err := portfolio.MinVariance(returns)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("min variance: ret %.2f%% risk %.2f%% weights %v\n",
		100*minVar.Return, 100*minVar.Risk, roundWeights(minVar.Weights))

	maxSharpe, err := portfolio.MaxSharpe(returns, 0.065, 0)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("max sharpe:   ret %.2f%% risk %.2f%% weights %v\n",
		100*maxSharpe.Return, 100*maxSharpe.Risk, roundWeights(maxSharpe.Weights))

	frontier, err := portfolio.Frontier(returns, 0)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("frontier: %v feasible points, risk %.2f%% .. %.2f%%\n",
		len(frontier), 100*frontier[0].Risk, 100*frontier[len(frontier)-1].Risk)
}

func runVolatility(ctx context.Context, returns data.ReturnPanel) {
	fmt.Println("\n== GARCH(1,1) ==")
	fits, err := garch.FitPanel(ctx, returns, 1, 1)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	for _, tk := range returns.Tickers {
		fit := fits[tk]
		last := fit.CondVol[len(fit.CondVol)-1]
		fmt.Printf("%v: loglik %.2f aic %.2f bic %.2f  latest cond.vol %.2f%%\n",
			tk, fit.LogLikelihood, fit.AIC, fit.BIC, last)
	}
}

func runDynamics(returns data.ReturnPanel, stocks []string) {
	fmt.Println("\n== multivariate dynamics ==")
	vfit, err := dynamics.FitVAR(returns, 5, dynamics.AIC, 10)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("VAR lag %v (aic %.4f), stable=%v\n", vfit.Lag, vfit.AIC, vfit.Stable)

	coint, err := dynamics.Johansen(returns, vfit.Lag)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("johansen trace %v vs 95%% %v -> rank %v\n", coint.TraceStats, coint.Crit95, coint.Rank)

	vecm, err := dynamics.FitVECM(returns, coint.Rank, vfit.Lag)
	if err != nil {
		fmt.Println(err)
	} else {
		fmt.Printf("VECM alpha %v\n", vecm.Alpha)
	}

	if len(stocks) >= 2 {
		cmp, err := dynamics.CompareDLM(returns, stocks[0], stocks[1:], 4)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("DLM %v ~ %v: F=%.3f p=%.4f (df %v,%v)\n",
			cmp.Target, strings.Join(cmp.Regressors, "+"), cmp.FStat, cmp.PValue, cmp.DFNum, cmp.DFDen)
	}
}

func roundWeights(w map[string]float64) map[string]float64 {
	out := map[string]float64{}
	for k, v := range w {
		out[k] = float64(int(v*1e4+0.5)) / 1e4
	}
	return out
}

func format(stocks []string) []string {
	sort.Strings(stocks)
	for s := 0; s < len(stocks); s++ {
		stocks[s] = strings.ToUpper(strings.TrimSpace(stocks[s]))
	}
	return stocks
}
