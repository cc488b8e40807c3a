package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/banachtech/banklens/dynamics"
	"github.com/banachtech/banklens/garch"
	"github.com/banachtech/banklens/portfolio"
	"github.com/banachtech/banklens/strategy"
	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"
)

type dateRange struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`
}

func (r dateRange) parse() (time.Time, time.Time, error) {
	start, err := time.Parse(data.Layout, r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(data.Layout, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end date must be later than start date")
	}
	return start, end, nil
}

// fetchReturns resolves the request's tickers into an aligned return panel,
// short-circuiting with a reported condition when the provider has no data.
func (server *Server) fetchReturns(c *gin.Context, tickers []string, dr dateRange) (data.ReturnPanel, bool) {
	start, end, err := dr.parse()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return data.ReturnPanel{}, false
	}
	prices, err := server.provider.Prices(c, tickers, start, end)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, data.ErrNoData) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, errorResponse(err))
		return data.ReturnPanel{}, false
	}
	returns, err := prices.Returns()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return data.ReturnPanel{}, false
	}
	return returns, true
}

type strategyRequest struct {
	Ticker string `json:"ticker" binding:"required"`
	Rule   string `json:"rule" binding:"required"`
	dateRange
	Fast       int     `json:"fast"`
	Slow       int     `json:"slow"`
	Trend      int     `json:"trend"`
	RSIPeriod  int     `json:"rsi_period"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
	RiskFree   float64 `json:"risk_free"`
}

func (server *Server) strategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	start, end, err := req.parse()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	prices, err := server.provider.Prices(c, []string{req.Ticker}, start, end)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(err))
		return
	}
	series, ok := prices.Series(req.Ticker)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(fmt.Errorf("no data for %v", req.Ticker)))
		return
	}
	returns, err := series.Returns()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}

	params := strategy.DefaultParams()
	if req.Fast > 0 {
		params.Fast = req.Fast
	}
	if req.Slow > 0 {
		params.Slow = req.Slow
	}
	if req.Trend > 0 {
		params.Trend = req.Trend
	}
	if req.RSIPeriod > 0 {
		params.RSIPeriod = req.RSIPeriod
	}
	if req.Oversold > 0 {
		params.Oversold = req.Oversold
	}
	if req.Overbought > 0 {
		params.Overbought = req.Overbought
	}
	if req.RiskFree > 0 {
		params.RiskFree = req.RiskFree
	}

	result, err := strategy.Evaluate(series, returns, strategy.Rule(req.Rule), params)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":           result.Name,
		"dates":          result.Dates,
		"price":          result.Price,
		"ret":            result.Ret,
		"indicators":     result.Indicators,
		"position":       result.Position,
		"signal":         result.Signal,
		"algo_ret":       result.AlgoRet,
		"ann_return":     result.AnnReturn,
		"ann_vol":        result.AnnVol,
		"sharpe":         nullable(result.Sharpe),
		"sharpe_defined": result.SharpeDefined,
		"trades":         result.Trades,
	})
}

type portfolioRequest struct {
	Tickers []string `json:"tickers" binding:"required,min=2"`
	dateRange
	RiskFree float64 `json:"risk_free"`
	NTargets int     `json:"n_targets"`
	NPoints  int     `json:"n_points"`
	Samples  int     `json:"samples"`
}

func (server *Server) portfolio(c *gin.Context) {
	var req portfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	panel, ok := server.fetchReturns(c, req.Tickers, req.dateRange)
	if !ok {
		return
	}

	minVar, err := portfolio.MinVariance(panel)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	maxSharpe, err := portfolio.MaxSharpe(panel, req.RiskFree, req.NTargets)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	frontier, err := portfolio.Frontier(panel, req.NPoints)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	samples, err := portfolio.RandomPortfolios(panel, req.Samples, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min_variance": minVar,
		"max_sharpe":   maxSharpe,
		"frontier":     frontier,
		"samples":      samples,
	})
}

type volatilityRequest struct {
	Tickers []string `json:"tickers" binding:"required,min=1"`
	dateRange
	P int `json:"p"`
	Q int `json:"q"`
}

func (server *Server) volatility(c *gin.Context) {
	var req volatilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	if req.P == 0 {
		req.P = 1
	}
	if req.Q == 0 {
		req.Q = 1
	}
	panel, ok := server.fetchReturns(c, req.Tickers, req.dateRange)
	if !ok {
		return
	}
	fits, err := garch.FitPanel(c, panel, req.P, req.Q)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	// Standard errors and p-values can be NaN when the Hessian is singular;
	// report them as nulls rather than failing the JSON encoder.
	out := gin.H{}
	for tk, fit := range fits {
		out[tk] = gin.H{
			"names":          fit.Names,
			"coef":           fit.Coef,
			"std_err":        nullables(fit.StdErr),
			"p_values":       nullables(fit.PValues),
			"log_likelihood": fit.LogLikelihood,
			"aic":            fit.AIC,
			"bic":            fit.BIC,
			"cond_vol":       fit.CondVol,
		}
	}
	c.JSON(http.StatusOK, gin.H{"fits": out, "dates": panel.Dates})
}

type dynamicsRequest struct {
	Tickers []string `json:"tickers" binding:"required,min=2"`
	dateRange
	Model     string `json:"model" binding:"required,oneof=var vecm"`
	MaxLag    int    `json:"max_lag"`
	Criterion string `json:"criterion"`
	Horizon   int    `json:"irf_horizon"`
}

func (server *Server) dynamics(c *gin.Context) {
	var req dynamicsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	if req.MaxLag == 0 {
		req.MaxLag = 5
	}
	if req.Criterion == "" {
		req.Criterion = "aic"
	}
	if req.Horizon == 0 {
		req.Horizon = 10
	}
	panel, ok := server.fetchReturns(c, req.Tickers, req.dateRange)
	if !ok {
		return
	}

	if req.Model == "var" {
		fit, err := dynamics.FitVAR(panel, req.MaxLag, dynamics.Criterion(req.Criterion), req.Horizon)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tickers":         fit.Tickers,
			"lag":             fit.Lag,
			"criterion":       fit.Criterion,
			"criterion_value": fit.CritValue,
			"aic":             fit.AIC,
			"bic":             fit.BIC,
			"hqic":            fit.HQIC,
			"stable":          fit.Stable,
			"roots":           fit.Roots,
			"irf":             denseSlices(fit.IRF),
		})
		return
	}

	coint, err := dynamics.Johansen(panel, req.MaxLag)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	resp := gin.H{"johansen": coint}
	vecm, err := dynamics.FitVECM(panel, coint.Rank, req.MaxLag)
	if err != nil {
		// No cointegration is a reported condition, not a failure.
		if errors.Is(err, dynamics.ErrNotApplicable) {
			resp["vecm_skipped"] = err.Error()
			c.JSON(http.StatusOK, resp)
			return
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	resp["vecm"] = vecm
	c.JSON(http.StatusOK, resp)
}

type dlmRequest struct {
	Target     string   `json:"target" binding:"required"`
	Regressors []string `json:"regressors" binding:"required,min=1"`
	dateRange
	Lags int `json:"lags"`
}

func (server *Server) dlm(c *gin.Context) {
	var req dlmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	if req.Lags == 0 {
		req.Lags = 4
	}
	panel, ok := server.fetchReturns(c, append([]string{req.Target}, req.Regressors...), req.dateRange)
	if !ok {
		return
	}
	cmp, err := dynamics.CompareDLM(panel, req.Target, req.Regressors, req.Lags)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	lagSummary := gin.H{}
	for tk, ls := range cmp.LagSummary {
		lagSummary[tk] = gin.H{
			"mean_lag":     ls.MeanLag,
			"weighted_lag": nullable(ls.WeightedLag),
			"defined":      ls.Defined,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"target":       cmp.Target,
		"regressors":   cmp.Regressors,
		"lags":         cmp.Lags,
		"unrestricted": cmp.Unrestricted,
		"restricted":   cmp.Restricted,
		"f_stat":       cmp.FStat,
		"p_value":      cmp.PValue,
		"df_num":       cmp.DFNum,
		"df_den":       cmp.DFDen,
		"lag_summary":  lagSummary,
		"var_lag":      cmp.VARLag,
		"var_aic":      cmp.VARAIC,
		"var_bic":      cmp.VARBIC,
	})
}

// nullable maps NaN to a JSON null; encoding/json rejects NaN outright.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func nullables(vs []float64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = nullable(v)
	}
	return out
}

func denseSlices(ms []*mat.Dense) [][][]float64 {
	out := make([][][]float64, len(ms))
	for h, m := range ms {
		r, cdim := m.Dims()
		rows := make([][]float64, r)
		for i := 0; i < r; i++ {
			row := make([]float64, cdim)
			for j := 0; j < cdim; j++ {
				row[j] = m.At(i, j)
			}
			rows[i] = row
		}
		out[h] = rows
	}
	return out
}
