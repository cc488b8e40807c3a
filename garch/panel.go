package garch

import (
	"context"
	"runtime"
	"sync"

	"github.com/banachtech/banklens/data"
	"golang.org/x/sync/errgroup"
)

// FitPanel fits one GARCH(p,q) model per instrument, fanning out across a
// bounded worker group. Results are re-associated with their instrument key;
// no ordering is guaranteed beyond that.
func FitPanel(ctx context.Context, panel data.ReturnPanel, p, q int) (map[string]*Fit, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var mu sync.Mutex
	out := make(map[string]*Fit, len(panel.Tickers))
	for _, tk := range panel.Tickers {
		tk := tk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fit, err := FitModel(panel.Rets[tk], p, q)
			if err != nil {
				return err
			}
			mu.Lock()
			out[tk] = fit
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
