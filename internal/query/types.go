package query

// LiquidationHistoryResponse is one liquidation-family outcome for API
// queries.
type LiquidationHistoryResponse struct {
	Sequence          int64  `json:"sequence"`
	LiquidationType   string `json:"liquidation_type"`
	AccountKey        string `json:"account_key"`
	LiquidatorKey     string `json:"liquidator_key"`
	LiquidationID     int    `json:"liquidation_id"`
	MarketIndex       *int   `json:"market_index,omitempty"`
	LiabilityTransfer int64  `json:"liability_transfer"`
	AssetTransfer     int64  `json:"asset_transfer"`
	IfFee             int64  `json:"if_fee"`
	SocializedLoss    int64  `json:"socialized_loss"`
	Ts                int64  `json:"ts"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// FillHistoryResponse is one order action for API queries.
type FillHistoryResponse struct {
	Sequence     int64   `json:"sequence"`
	Action       string  `json:"action"`
	FillID       string  `json:"fill_id"`
	MarketIndex  int     `json:"market_index"`
	FillPrice    int64   `json:"fill_price"`
	BaseFilled   int64   `json:"base_filled"`
	QuoteFilled  int64   `json:"quote_filled"`
	TakerKey     *string `json:"taker_key,omitempty"`
	TakerOrderID int64   `json:"taker_order_id"`
	MakerKey     *string `json:"maker_key,omitempty"`
	MakerOrderID int64   `json:"maker_order_id"`
	Ts           int64   `json:"ts"`
	AsOfSequence int64   `json:"as_of_sequence"`
}

// TransferHistoryResponse is one deposit or withdrawal for API queries.
type TransferHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	Direction    string `json:"direction"`
	AccountKey   string `json:"account_key"`
	MarketIndex  int    `json:"market_index"`
	TokenAmount  int64  `json:"token_amount"`
	Ts           int64  `json:"ts"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
