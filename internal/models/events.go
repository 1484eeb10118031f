package models

import "time"

// ExecutionEvent records one submitted route or arbitrage execution.
// Published to Redis for live consumers and inserted into ClickHouse
// for history; amounts are serialized as decimal strings so downstream
// consumers never round them.
type ExecutionEvent struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"` // "route" or "arbitrage"
	TokenIn     string    `json:"token_in"`
	TokenOut    string    `json:"token_out"`
	AmountIn    string    `json:"amount_in"`
	AmountOut   string    `json:"amount_out"`
	Fees        []string  `json:"fees"` // "mint:amount", one entry per fee token
	PriorityFee uint64    `json:"priority_fee"`
	Pools       []string  `json:"pools"`
	Hops        int       `json:"hops"`
	Attempts    int       `json:"attempts"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// OpportunityEvent is a detected arbitrage cycle broadcast by the monitor.
type OpportunityEvent struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	Pools      []string  `json:"pools"`
	Hops       int       `json:"hops"`
	ProfitUSD  string    `json:"profit_usd"`
	Score      float64   `json:"score"`
	Risk       float64   `json:"risk"`
	Confidence float64   `json:"confidence"`
	FoundAt    time.Time `json:"found_at"`
}
