package server

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type initializeMarketRequest struct {
	MarketIndex                uint16 `json:"market_index"`
	Name                       string `json:"name"`
	Decimals                   uint8  `json:"decimals"`
	OracleKey                  string `json:"oracle_key"`
	OptimalUtilization         int64  `json:"optimal_utilization"`
	OptimalRate                int64  `json:"optimal_rate"`
	MaxRate                    int64  `json:"max_rate"`
	MaintenanceAssetWeight     int64  `json:"maintenance_asset_weight"`
	MaintenanceLiabilityWeight int64  `json:"maintenance_liability_weight"`
	LiquidatorFee              int64  `json:"liquidator_fee"`
	IfLiquidationFee           int64  `json:"if_liquidation_fee"`
}

type initializeAccountRequest struct {
	AccountID    string `json:"account_id"`
	SubAccountID uint16 `json:"sub_account_id"`
	Authority    string `json:"authority"` // base64 ed25519 public key
}

type transferRequest struct {
	MarketIndex uint16 `json:"market_index"`
	TokenAmount uint64 `json:"token_amount"`
	TransferID  string `json:"transfer_id"`
	Ts          int64  `json:"ts"`
}

type accountRef struct {
	AccountID    string `json:"account_id"`
	SubAccountID uint16 `json:"sub_account_id"`
}

type liquidateRequest struct {
	Liquidator           accountRef `json:"liquidator"`
	Victim               accountRef `json:"victim"`
	AssetMarketIndex     uint16     `json:"asset_market_index"`
	LiabilityMarketIndex uint16     `json:"liability_market_index"`
	MaxLiabilityTransfer uint64     `json:"max_liability_transfer"`
	Ts                   int64      `json:"ts"`
}

type resolveBankruptcyRequest struct {
	Liquidator  accountRef `json:"liquidator"`
	Victim      accountRef `json:"victim"`
	MarketIndex uint16     `json:"market_index"`
	Ts          int64      `json:"ts"`
}

type orderParamsRequest struct {
	MarketIndex       uint16  `json:"market_index"`
	MarketType        string  `json:"market_type"`
	Type              string  `json:"type"`
	Direction         string  `json:"direction"`
	BaseAssetAmount   uint64  `json:"base_asset_amount"`
	Price             uint64  `json:"price"`
	AuctionStartPrice *int64  `json:"auction_start_price,omitempty"`
	AuctionEndPrice   *int64  `json:"auction_end_price,omitempty"`
	AuctionDuration   *uint16 `json:"auction_duration,omitempty"`
	PostOnly          bool    `json:"post_only"`
	ImmediateOrCancel bool    `json:"immediate_or_cancel"`
	TriggerPrice      uint64  `json:"trigger_price"`
	TriggerCondition  string  `json:"trigger_condition"`
}

type triggerParamsRequest struct {
	TriggerPrice     uint64 `json:"trigger_price"`
	BaseAssetAmount  uint64 `json:"base_asset_amount"`
	TriggerCondition string `json:"trigger_condition"`
}

type signedMessageRequest struct {
	SubAccountID     uint16                `json:"sub_account_id"`
	Params           orderParamsRequest    `json:"params"`
	SequenceNumber   uint64                `json:"sequence_number"`
	Nonce            string                `json:"nonce"` // base64, 8 bytes
	TakeProfitParams *triggerParamsRequest `json:"take_profit_params,omitempty"`
	StopLossParams   *triggerParamsRequest `json:"stop_loss_params,omitempty"`
}

type placeSignedOrderRequest struct {
	Taker     accountRef           `json:"taker"`
	Message   signedMessageRequest `json:"message"`
	Signature string               `json:"signature"` // base64
	Ts        int64                `json:"ts"`
}

type placeAndMakeRequest struct {
	Taker       accountRef           `json:"taker"`
	Message     signedMessageRequest `json:"message"`
	Signature   string               `json:"signature"`
	Maker       accountRef           `json:"maker"`
	MakerParams orderParamsRequest   `json:"maker_params"`
	Ts          int64                `json:"ts"`
}

type placeOrderRequest struct {
	Owner  accountRef         `json:"owner"`
	Params orderParamsRequest `json:"params"`
	Ts     int64              `json:"ts"`
}

type orderStoreRequest struct {
	Owner accountRef `json:"owner"`
	Ts    int64      `json:"ts"`
}

type orderIDResponse struct {
	OrderID uint32 `json:"order_id"`
}

type placeAndMakeResponse struct {
	TakerOrderID uint32 `json:"taker_order_id"`
	MakerOrderID uint32 `json:"maker_order_id"`
	FillPrice    uint64 `json:"fill_price"`
	BaseFilled   uint64 `json:"base_filled"`
	Hash         string `json:"hash"`
}

type openOrderResponse struct {
	OrderID         uint32 `json:"order_id"`
	MarketIndex     uint16 `json:"market_index"`
	Type            string `json:"type"`
	Direction       string `json:"direction"`
	BaseAssetAmount uint64 `json:"base_asset_amount"`
	BaseFilled      uint64 `json:"base_filled"`
	Price           uint64 `json:"price"`
	TriggerPrice    uint64 `json:"trigger_price"`
	Status          string `json:"status"`
}
