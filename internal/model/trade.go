package model

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Trade is a single executed order on the upstream venue. It is transient:
// the pipeline never stores a Trade document, only its hash in SeenHash.
type Trade struct {
	TxHash       string  `json:"transactionHash"`
	ProxyWallet  string  `json:"proxyWallet"`
	Side         Side    `json:"side"`
	Size         float64 `json:"size"`
	Price        float64 `json:"price"`
	ConditionID  string  `json:"conditionId"`
	Timestamp    int64   `json:"timestamp"`
}

// Notional is the dollar value of the trade at its execution price.
func (t Trade) Notional() float64 {
	return t.Size * t.Price
}
