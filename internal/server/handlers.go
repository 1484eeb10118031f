package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/arb"
	"github.com/UmutKorkmaz/solana-route-engine/internal/cache"
	"github.com/UmutKorkmaz/solana-route-engine/internal/executor"
	"github.com/UmutKorkmaz/solana-route-engine/internal/flags"
	"github.com/UmutKorkmaz/solana-route-engine/internal/graph"
	"github.com/UmutKorkmaz/solana-route-engine/internal/router"
)

// Defaults are applied to route and arbitrage queries that omit parameters.
type Defaults struct {
	MaxHops      int
	MaxSlippage  decimal.Decimal
	MinProfitUSD decimal.Decimal
	MaxCycleLen  int
	RouteTTL     time.Duration
	ArbTTL       time.Duration
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Graph    *graph.Graph
	Finder   *router.Finder
	Detector *arb.Detector
	Exec     *executor.Executor // nil when no wallet is configured
	Flags    *flags.Store       // nil without Redis
	Cache    *cache.RedisCache  // nil without Redis
	Pending  *cache.Memo        // routes/cycles held for execute-by-id
	Defaults Defaults
	DevMode  bool
	Logger   *logrus.Logger
}

// err returns a standardized JSON error response. In dev mode, includes
// additional error details for debugging.
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health returns a simple health check endpoint
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{OK: true})
}

// GraphStats returns pool graph diagnostics.
func (h *Handlers) GraphStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Graph.Statistics())
}

// FindRoute handles GET /v1/route. Query parameters: from, to, amount,
// max_hops, max_slippage, allow_split.
func (h *Handlers) FindRoute(c echo.Context) error {
	from, err := solana.PublicKeyFromBase58(strings.TrimSpace(c.QueryParam("from")))
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid from token", map[string]any{"from": err.Error()})
	}
	to, err := solana.PublicKeyFromBase58(strings.TrimSpace(c.QueryParam("to")))
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid to token", map[string]any{"to": err.Error()})
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(c.QueryParam("amount")))
	if err != nil || amount.Sign() <= 0 {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "must be a positive decimal"})
	}

	req := router.Request{
		From:        from,
		To:          to,
		Amount:      amount,
		MaxHops:     h.Defaults.MaxHops,
		MaxSlippage: h.Defaults.MaxSlippage,
	}

	if v := c.QueryParam("max_hops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return h.err(c, http.StatusBadRequest, "invalid max_hops", map[string]any{"max_hops": "must be an integer >= 1"})
		}
		req.MaxHops = n
	}
	if v := c.QueryParam("max_slippage"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.Sign() <= 0 {
			return h.err(c, http.StatusBadRequest, "invalid max_slippage", map[string]any{"max_slippage": "must be a positive decimal fraction"})
		}
		req.MaxSlippage = d
	}
	if v := c.QueryParam("allow_split"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid allow_split", map[string]any{"allow_split": "must be a boolean"})
		}
		req.AllowSplit = b
	}
	if from.Equals(to) {
		return h.err(c, http.StatusBadRequest, "from and to tokens are identical", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	set, err := h.Finder.FindRoute(ctx, req)
	if err != nil {
		var noRoute *router.NoRouteError
		var impact *router.PriceImpactError
		var liq *graph.InsufficientLiquidityError
		switch {
		case errors.As(err, &noRoute):
			return h.err(c, http.StatusNotFound, "no route found", map[string]any{"reason": noRoute.Reason})
		case errors.As(err, &impact):
			return h.err(c, http.StatusUnprocessableEntity, "price impact exceeds max slippage",
				map[string]any{"impact": impact.Impact.String(), "limit": impact.Limit.String()})
		case errors.As(err, &liq):
			return h.err(c, http.StatusUnprocessableEntity, "insufficient liquidity",
				map[string]any{"pool": liq.PoolName, "requested": liq.Requested.String()})
		default:
			return h.err(c, http.StatusInternalServerError, "route search failed", map[string]any{"err": err.Error()})
		}
	}

	for _, r := range set.Routes {
		h.Pending.Set("pending:"+r.ID, r, h.Defaults.RouteTTL)
	}

	return c.JSON(http.StatusOK, routeSetView(set))
}

// Arbitrage handles GET /v1/arbitrage. Query parameters: min_profit_usd,
// max_cycle_len.
func (h *Handlers) Arbitrage(c echo.Context) error {
	params := arb.Params{
		MinProfitUSD: h.Defaults.MinProfitUSD,
		MaxCycleLen:  h.Defaults.MaxCycleLen,
	}

	if v := c.QueryParam("min_profit_usd"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.Sign() < 0 {
			return h.err(c, http.StatusBadRequest, "invalid min_profit_usd", map[string]any{"min_profit_usd": "must be a non-negative decimal"})
		}
		params.MinProfitUSD = d
	}
	if v := c.QueryParam("max_cycle_len"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 {
			return h.err(c, http.StatusBadRequest, "invalid max_cycle_len", map[string]any{"max_cycle_len": "must be an integer >= 2"})
		}
		params.MaxCycleLen = n
	}

	cycles, err := h.Detector.Scan(c.Request().Context(), params)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "arbitrage scan failed", map[string]any{"err": err.Error()})
	}

	items := make([]CycleView, 0, len(cycles))
	for _, cy := range cycles {
		h.Pending.Set("pending:"+cy.ID, cy, h.Defaults.ArbTTL)
		items = append(items, cycleView(cy))
	}

	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// RecentExecutions returns the rolling execution history from Redis.
// Accepts limit query parameter (default: 100, range: 1-100).
func (h *Handlers) RecentExecutions(c echo.Context) error {
	if h.Cache == nil {
		return h.err(c, http.StatusServiceUnavailable, "execution history is not configured", nil)
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > 100 {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 100"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Cache.GetRecentExecutions(ctx, int64(limit))
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to get executions", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Execute handles POST /v1/execute: run (or simulate) a route or cycle
// previously returned by /route or /arbitrage, identified by its id.
func (h *Handlers) Execute(c echo.Context) error {
	if h.Exec == nil {
		return h.err(c, http.StatusServiceUnavailable, "execution is not configured", nil)
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return h.err(c, http.StatusBadRequest, "id is required", nil)
	}

	pending, ok := h.Pending.Get("pending:" + req.ID)
	if !ok {
		return h.err(c, http.StatusNotFound, "unknown or expired id", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 90*time.Second)
	defer cancel()

	switch target := pending.(type) {
	case *router.Route:
		if req.SimulateOnly {
			return h.preflight(c, ctx, h.Exec.RoutePayload(target))
		}
		receipt, err := h.Exec.Execute(ctx, target)
		if err != nil {
			return h.executionError(c, err)
		}
		return c.JSON(http.StatusOK, receiptView(receipt))

	case *arb.Cycle:
		if req.SimulateOnly {
			return h.preflight(c, ctx, h.Exec.CyclePayload(target))
		}
		receipt, err := h.Exec.ExecuteArbitrage(ctx, target)
		if err != nil {
			return h.executionError(c, err)
		}
		return c.JSON(http.StatusOK, receiptView(receipt))

	default:
		return h.err(c, http.StatusInternalServerError, "unexpected pending entry", nil)
	}
}

func (h *Handlers) preflight(c echo.Context, ctx context.Context, p executor.Payload) error {
	if err := h.Exec.Preflight(ctx, p); err != nil {
		var sim *executor.SimulationError
		if errors.As(err, &sim) {
			return h.err(c, http.StatusUnprocessableEntity, "simulation failed", map[string]any{"reason": sim.Reason})
		}
		return h.err(c, http.StatusInternalServerError, "preflight failed", map[string]any{"err": err.Error()})
	}
	return c.JSON(http.StatusOK, ExecuteResponse{
		Success:     true,
		Simulated:   true,
		Kind:        p.Kind,
		AmountIn:    p.AmountIn.String(),
		ExpectedOut: p.Hops[len(p.Hops)-1].AmountOut.String(),
	})
}

func (h *Handlers) executionError(c echo.Context, err error) error {
	var sim *executor.SimulationError
	var sub *executor.SubmissionError
	switch {
	case errors.Is(err, executor.ErrExecutionDisabled):
		return h.err(c, http.StatusForbidden, "trading is disabled", nil)
	case errors.Is(err, router.ErrRouteInvalidated):
		return h.err(c, http.StatusConflict, "route invalidated", map[string]any{"err": err.Error()})
	case errors.Is(err, arb.ErrStaleOpportunity):
		return h.err(c, http.StatusConflict, "opportunity stale", map[string]any{"err": err.Error()})
	case errors.As(err, &sim):
		return h.err(c, http.StatusUnprocessableEntity, "simulation failed", map[string]any{"reason": sim.Reason})
	case errors.As(err, &sub):
		return h.err(c, http.StatusBadGateway, "submission failed", map[string]any{"reason": sub.Reason})
	default:
		return h.err(c, http.StatusInternalServerError, "execution failed", map[string]any{"err": err.Error()})
	}
}

// FlagsUpsert creates or updates a switch.
func (h *Handlers) FlagsUpsert(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "switches are not configured", nil)
	}
	var req FlagUpsertRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if err := flags.ValidateKey(req.Key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Set(ctx, req.Key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to upsert switch", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsUpdate updates an existing switch.
func (h *Handlers) FlagsUpdate(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "switches are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}
	var req FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Set(ctx, key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to update switch", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsGet retrieves a switch by key. Returns 404 if it doesn't exist.
func (h *Handlers) FlagsGet(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "switches are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Get(ctx, key)
	if err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "switch not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get switch", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsList returns all switches.
func (h *Handlers) FlagsList(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "switches are not configured", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Flags.List(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list switches", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// FlagsDelete removes a switch by key.
func (h *Handlers) FlagsDelete(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "switches are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Flags.Delete(ctx, key); err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to delete switch", nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func hopViews(hops []graph.Hop) []HopView {
	out := make([]HopView, len(hops))
	for i, h := range hops {
		out[i] = HopView{
			Pool:        h.Pool.Address.String(),
			PoolName:    h.Pool.Name,
			TokenIn:     h.TokenIn.Mint.String(),
			TokenOut:    h.TokenOut.Mint.String(),
			AmountIn:    h.AmountIn.String(),
			AmountOut:   h.AmountOut.String(),
			Fee:         h.Fee.String(),
			PriceImpact: h.PriceImpact.String(),
		}
	}
	return out
}

func routeSetView(set *router.RouteSet) RouteSetResponse {
	views := make([]RouteView, len(set.Routes))
	for i, r := range set.Routes {
		views[i] = RouteView{
			ID:          r.ID,
			Hops:        hopViews(r.Hops),
			AmountIn:    r.AmountIn.String(),
			AmountOut:   r.AmountOut.String(),
			PriceImpact: r.PriceImpact.String(),
			Share:       r.Share.String(),
			ComputedAt:  r.ComputedAt,
		}
	}
	return RouteSetResponse{
		Split:     set.Split,
		AmountIn:  set.AmountIn.String(),
		AmountOut: set.AmountOut.String(),
		Routes:    views,
	}
}

func cycleView(c *arb.Cycle) CycleView {
	return CycleView{
		ID:          c.ID,
		Token:       c.Token.String(),
		Hops:        hopViews(c.Hops),
		ProbeAmount: c.ProbeAmount.String(),
		Profit:      c.Profit.String(),
		ProfitUSD:   c.ProfitUSD.String(),
		Risk:        c.Risk,
		Confidence:  c.Confidence,
		Score:       c.Score,
		FoundAt:     c.FoundAt,
	}
}

func receiptView(r *executor.Receipt) ExecuteResponse {
	return ExecuteResponse{
		Signature:   r.Signature,
		Success:     r.Success,
		Kind:        r.Kind,
		AmountIn:    r.AmountIn.String(),
		ExpectedOut: r.ExpectedOut.String(),
		Attempts:    r.Attempts,
		Error:       r.Error,
	}
}
