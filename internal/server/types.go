package server

import "time"

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK bool `json:"ok"` // Service health status
}

// HopView is one pool traversal in a response. Amounts are decimal strings.
type HopView struct {
	Pool        string `json:"pool"`
	PoolName    string `json:"pool_name"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Fee         string `json:"fee"`
	PriceImpact string `json:"price_impact"`
}

// RouteView is one route candidate or split sibling.
type RouteView struct {
	ID          string    `json:"id"`
	Hops        []HopView `json:"hops"`
	AmountIn    string    `json:"amount_in"`
	AmountOut   string    `json:"amount_out"`
	PriceImpact string    `json:"price_impact"`
	Share       string    `json:"share"`
	ComputedAt  time.Time `json:"computed_at"`
}

// RouteSetResponse is the full /route result.
type RouteSetResponse struct {
	Split     bool        `json:"split"`
	AmountIn  string      `json:"amount_in"`
	AmountOut string      `json:"amount_out"`
	Routes    []RouteView `json:"routes"`
}

// CycleView is one detected arbitrage opportunity.
type CycleView struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	Hops        []HopView `json:"hops"`
	ProbeAmount string    `json:"probe_amount"`
	Profit      string    `json:"profit"`
	ProfitUSD   string    `json:"profit_usd"`
	Risk        float64   `json:"risk"`
	Confidence  float64   `json:"confidence"`
	Score       float64   `json:"score"`
	FoundAt     time.Time `json:"found_at"`
}

// ExecuteRequest identifies a previously returned route or cycle to run.
type ExecuteRequest struct {
	ID           string `json:"id"`
	SimulateOnly bool   `json:"simulate_only"`
}

// ExecuteResponse reports the execution outcome.
type ExecuteResponse struct {
	Signature   string `json:"signature,omitempty"`
	Success     bool   `json:"success"`
	Simulated   bool   `json:"simulated,omitempty"`
	Kind        string `json:"kind"`
	AmountIn    string `json:"amount_in"`
	ExpectedOut string `json:"expected_out"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// FlagUpsertRequest represents a request to create or update a switch
type FlagUpsertRequest struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// FlagUpdateRequest represents a request to update an existing switch
type FlagUpdateRequest struct {
	Value bool `json:"value"`
}
