package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clearinghouse/internal/core"
	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/observability"
	"clearinghouse/internal/oracle"
	"clearinghouse/internal/orders"
	"clearinghouse/internal/query"
	"clearinghouse/internal/risk"
	"clearinghouse/internal/signing"
)

// Server exposes the clearing operations over HTTP. Every mutating handler
// funnels its work onto the core goroutine through the runner, so handlers
// never touch ClearingHouse state concurrently.
type Server struct {
	app    *fiber.App
	runner *core.Runner
	query  *query.Service
	health *observability.HealthChecker
	log    zerolog.Logger
}

func New(runner *core.Runner, querySvc *query.Service, health *observability.HealthChecker, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "clearinghoused",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:    app,
		runner: runner,
		query:  querySvc,
		health: health,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(RequestLogger(s.log))

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/readyz", s.handleReady)

	v1 := s.app.Group("/api/v1")

	v1.Post("/markets", s.handleInitializeMarket)
	v1.Post("/accounts", s.handleInitializeAccount)
	v1.Post("/accounts/:account/:sub/deposits", s.handleDeposit)
	v1.Post("/accounts/:account/:sub/withdrawals", s.handleWithdraw)

	v1.Post("/liquidations", s.handleLiquidateSpot)
	v1.Post("/bankruptcies", s.handleResolveBankruptcy)

	v1.Post("/order-store", s.handleInitializeOrderStore)
	v1.Delete("/order-store", s.handleDeleteOrderStore)
	v1.Post("/orders", s.handlePlaceOrder)
	v1.Delete("/orders/:account/:sub/:market/:order", s.handleCancelOrder)
	v1.Get("/orders/:account/:sub", s.handleOpenOrders)
	v1.Post("/signed-orders", s.handlePlaceSignedOrder)
	v1.Post("/place-and-make", s.handlePlaceAndMake)

	v1.Get("/history/liquidations", s.handleLiquidationHistory)
	v1.Get("/history/fills", s.handleFillHistory)
	v1.Get("/history/transfers", s.handleTransferHistory)
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "uptime_seconds": int64(s.health.Uptime().Seconds())})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	if !s.health.IsReady() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *Server) handleInitializeMarket(c *fiber.Ctx) error {
	var req initializeMarketRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	m := &ledger.Market{
		MarketIndex: req.MarketIndex,
		Name:        req.Name,
		Decimals:    req.Decimals,
		OracleKey:   req.OracleKey,
		RateCurve: fpmath.RateCurve{
			OptimalUtilization: req.OptimalUtilization,
			OptimalRate:        req.OptimalRate,
			MaxRate:            req.MaxRate,
		},
		MaintenanceAssetWeight:     req.MaintenanceAssetWeight,
		MaintenanceLiabilityWeight: req.MaintenanceLiabilityWeight,
		LiquidatorFee:              req.LiquidatorFee,
		IfLiquidationFee:           req.IfLiquidationFee,
	}
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		opErr = ch.InitializeMarket(m)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"market_index": req.MarketIndex})
}

func (s *Server) handleInitializeAccount(c *fiber.Ctx) error {
	var req initializeAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := uuid.Parse(req.AccountID)
	if err != nil {
		return badRequest(c, "invalid account_id")
	}
	authority, err := base64.StdEncoding.DecodeString(req.Authority)
	if err != nil {
		return badRequest(c, "invalid authority encoding")
	}
	key := ledger.AccountKey{AccountID: id, SubAccountID: req.SubAccountID}
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		opErr = ch.InitializeAccount(key, authority)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account_key": key.String()})
}

func (s *Server) handleDeposit(c *fiber.Ctx) error {
	return s.handleTransfer(c, true)
}

func (s *Server) handleWithdraw(c *fiber.Ctx) error {
	return s.handleTransfer(c, false)
}

func (s *Server) handleTransfer(c *fiber.Ctx, deposit bool) error {
	key, err := accountKeyFromPath(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	transferID, err := uuid.Parse(req.TransferID)
	if err != nil {
		return badRequest(c, "invalid transfer_id")
	}
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		if deposit {
			opErr = ch.Deposit(key, req.MarketIndex, req.TokenAmount, transferID, req.Ts)
		} else {
			opErr = ch.Withdraw(key, req.MarketIndex, req.TokenAmount, transferID, req.Ts)
		}
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(fiber.Map{"transfer_id": req.TransferID})
}

func (s *Server) handleLiquidateSpot(c *fiber.Ctx) error {
	var req liquidateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	liquidator, err := req.Liquidator.key()
	if err != nil {
		return badRequest(c, "invalid liquidator key")
	}
	victim, err := req.Victim.key()
	if err != nil {
		return badRequest(c, "invalid victim key")
	}
	var (
		res   risk.LiquidateSpotResult
		opErr error
	)
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		res, opErr = ch.LiquidateSpot(liquidator, victim, req.AssetMarketIndex, req.LiabilityMarketIndex, req.MaxLiabilityTransfer, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(fiber.Map{
		"liquidation_id":     res.LiquidationID,
		"asset_transfer":     res.AssetTransfer,
		"liability_transfer": res.LiabilityTransfer,
		"if_fee":             res.IfFee,
		"bankrupt":           res.Bankrupt,
	})
}

func (s *Server) handleResolveBankruptcy(c *fiber.Ctx) error {
	var req resolveBankruptcyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	liquidator, err := req.Liquidator.key()
	if err != nil {
		return badRequest(c, "invalid liquidator key")
	}
	victim, err := req.Victim.key()
	if err != nil {
		return badRequest(c, "invalid victim key")
	}
	var (
		res   risk.BankruptcyResult
		opErr error
	)
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		res, opErr = ch.ResolveSpotBankruptcy(liquidator, victim, req.MarketIndex, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(fiber.Map{
		"liquidation_id":                   res.LiquidationID,
		"borrow_amount":                    res.BorrowAmount,
		"cumulative_deposit_interest_delta": res.CumulativeDepositInterestDelta,
	})
}

func (s *Server) handleInitializeOrderStore(c *fiber.Ctx) error {
	var req orderStoreRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := req.Owner.key()
	if err != nil {
		return badRequest(c, "invalid owner key")
	}
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		opErr = ch.InitializeOrderStore(key)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account_key": key.String()})
}

func (s *Server) handleDeleteOrderStore(c *fiber.Ctx) error {
	var req orderStoreRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := req.Owner.key()
	if err != nil {
		return badRequest(c, "invalid owner key")
	}
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		opErr = ch.DeleteOrderStore(key, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(fiber.Map{"account_key": key.String()})
}

func (s *Server) handlePlaceOrder(c *fiber.Ctx) error {
	var req placeOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := req.Owner.key()
	if err != nil {
		return badRequest(c, "invalid owner key")
	}
	params, err := req.Params.toOrderParams()
	if err != nil {
		return badRequest(c, err.Error())
	}
	var (
		orderID uint32
		opErr   error
	)
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		orderID, opErr = ch.PlaceOrder(key, params, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.Status(fiber.StatusCreated).JSON(orderIDResponse{OrderID: orderID})
}

func (s *Server) handleCancelOrder(c *fiber.Ctx) error {
	key, err := accountKeyFromPath(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	market, err := strconv.ParseUint(c.Params("market"), 10, 16)
	if err != nil {
		return badRequest(c, "invalid market index")
	}
	orderID, err := strconv.ParseUint(c.Params("order"), 10, 32)
	if err != nil {
		return badRequest(c, "invalid order id")
	}
	ts := int64(c.QueryInt("ts"))
	var opErr error
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		opErr = ch.CancelOrder(key, uint16(market), uint32(orderID), ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(fiber.Map{"order_id": orderID})
}

func (s *Server) handleOpenOrders(c *fiber.Ctx) error {
	key, err := accountKeyFromPath(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var open []*orders.Order
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		open = ch.OpenOrders(key)
	}); err != nil {
		return unavailable(c, err)
	}
	resp := make([]openOrderResponse, 0, len(open))
	for _, o := range open {
		resp = append(resp, openOrderResponse{
			OrderID:         o.OrderID,
			MarketIndex:     o.MarketIndex,
			Type:            o.Type.String(),
			Direction:       o.Direction.String(),
			BaseAssetAmount: o.BaseAssetAmount,
			BaseFilled:      o.BaseFilled,
			Price:           o.Price,
			TriggerPrice:    o.TriggerPrice,
			Status:          o.Status.String(),
		})
	}
	return c.JSON(resp)
}

func (s *Server) handlePlaceSignedOrder(c *fiber.Ctx) error {
	var req placeSignedOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := req.Taker.key()
	if err != nil {
		return badRequest(c, "invalid taker key")
	}
	msg, err := req.Message.toSignedMessage()
	if err != nil {
		return badRequest(c, err.Error())
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return badRequest(c, "invalid signature encoding")
	}
	var (
		orderID uint32
		opErr   error
	)
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		orderID, opErr = ch.PlaceSignedTakerOrder(key, msg, signature, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.Status(fiber.StatusCreated).JSON(orderIDResponse{OrderID: orderID})
}

func (s *Server) handlePlaceAndMake(c *fiber.Ctx) error {
	var req placeAndMakeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	takerKey, err := req.Taker.key()
	if err != nil {
		return badRequest(c, "invalid taker key")
	}
	makerKey, err := req.Maker.key()
	if err != nil {
		return badRequest(c, "invalid maker key")
	}
	msg, err := req.Message.toSignedMessage()
	if err != nil {
		return badRequest(c, err.Error())
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return badRequest(c, "invalid signature encoding")
	}
	makerParams, err := req.MakerParams.toOrderParams()
	if err != nil {
		return badRequest(c, err.Error())
	}
	var (
		res   core.PlaceAndMakeResult
		opErr error
	)
	if err := s.runner.Do(c.Context(), func(ch *core.ClearingHouse) {
		res, opErr = ch.PlaceAndMake(takerKey, msg, signature, makerKey, makerParams, req.Ts)
	}); err != nil {
		return unavailable(c, err)
	}
	if opErr != nil {
		return errorStatus(c, opErr)
	}
	return c.JSON(placeAndMakeResponse{
		TakerOrderID: res.TakerOrderID,
		MakerOrderID: res.MakerOrderID,
		FillPrice:    res.FillPrice,
		BaseFilled:   res.BaseFilled,
		Hash:         res.Hash,
	})
}

func (s *Server) handleLiquidationHistory(c *fiber.Ctx) error {
	accountKey := c.Query("account")
	if accountKey == "" {
		return badRequest(c, "account query parameter is required")
	}
	limit := clampLimit(c.QueryInt("limit", 50))
	rows, err := s.query.LiquidationHistory(c.Context(), accountKey, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("liquidation history query failed")
		return internalError(c)
	}
	return c.JSON(rows)
}

func (s *Server) handleFillHistory(c *fiber.Ctx) error {
	market := c.QueryInt("market", -1)
	if market < 0 {
		return badRequest(c, "market query parameter is required")
	}
	limit := clampLimit(c.QueryInt("limit", 50))
	rows, err := s.query.FillHistory(c.Context(), market, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("fill history query failed")
		return internalError(c)
	}
	return c.JSON(rows)
}

func (s *Server) handleTransferHistory(c *fiber.Ctx) error {
	accountKey := c.Query("account")
	if accountKey == "" {
		return badRequest(c, "account query parameter is required")
	}
	limit := clampLimit(c.QueryInt("limit", 50))
	rows, err := s.query.TransferHistory(c.Context(), accountKey, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("transfer history query failed")
		return internalError(c)
	}
	return c.JSON(rows)
}

func (r accountRef) key() (ledger.AccountKey, error) {
	id, err := uuid.Parse(r.AccountID)
	if err != nil {
		return ledger.AccountKey{}, err
	}
	return ledger.AccountKey{AccountID: id, SubAccountID: r.SubAccountID}, nil
}

func accountKeyFromPath(c *fiber.Ctx) (ledger.AccountKey, error) {
	id, err := uuid.Parse(c.Params("account"))
	if err != nil {
		return ledger.AccountKey{}, errors.New("invalid account id")
	}
	sub, err := strconv.ParseUint(c.Params("sub"), 10, 16)
	if err != nil {
		return ledger.AccountKey{}, errors.New("invalid sub-account id")
	}
	return ledger.AccountKey{AccountID: id, SubAccountID: uint16(sub)}, nil
}

func (r orderParamsRequest) toOrderParams() (orders.OrderParams, error) {
	mt, err := parseMarketType(r.MarketType)
	if err != nil {
		return orders.OrderParams{}, err
	}
	ot, err := parseOrderType(r.Type)
	if err != nil {
		return orders.OrderParams{}, err
	}
	dir, err := parseDirection(r.Direction)
	if err != nil {
		return orders.OrderParams{}, err
	}
	tc, err := parseTriggerCondition(r.TriggerCondition)
	if err != nil {
		return orders.OrderParams{}, err
	}
	return orders.OrderParams{
		MarketIndex:       r.MarketIndex,
		MarketType:        mt,
		Type:              ot,
		Direction:         dir,
		BaseAssetAmount:   r.BaseAssetAmount,
		Price:             r.Price,
		AuctionStartPrice: r.AuctionStartPrice,
		AuctionEndPrice:   r.AuctionEndPrice,
		AuctionDuration:   r.AuctionDuration,
		PostOnly:          r.PostOnly,
		ImmediateOrCancel: r.ImmediateOrCancel,
		TriggerPrice:      r.TriggerPrice,
		TriggerCondition:  tc,
	}, nil
}

func (r triggerParamsRequest) toTriggerParams() (*orders.TriggerParams, error) {
	tc, err := parseTriggerCondition(r.TriggerCondition)
	if err != nil {
		return nil, err
	}
	return &orders.TriggerParams{
		TriggerPrice:     r.TriggerPrice,
		BaseAssetAmount:  r.BaseAssetAmount,
		TriggerCondition: tc,
	}, nil
}

func (r signedMessageRequest) toSignedMessage() (*signing.SignedOrderMessage, error) {
	params, err := r.Params.toOrderParams()
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(r.Nonce)
	if err != nil || len(nonce) != 8 {
		return nil, errors.New("nonce must be 8 base64-encoded bytes")
	}
	msg := &signing.SignedOrderMessage{
		SubAccountID:   r.SubAccountID,
		Params:         params,
		SequenceNumber: r.SequenceNumber,
	}
	copy(msg.Nonce[:], nonce)
	if r.TakeProfitParams != nil {
		tp, err := r.TakeProfitParams.toTriggerParams()
		if err != nil {
			return nil, err
		}
		msg.TakeProfitParams = tp
	}
	if r.StopLossParams != nil {
		sl, err := r.StopLossParams.toTriggerParams()
		if err != nil {
			return nil, err
		}
		msg.StopLossParams = sl
	}
	return msg, nil
}

func parseMarketType(s string) (orders.MarketType, error) {
	switch s {
	case "spot":
		return orders.MarketTypeSpot, nil
	case "perp":
		return orders.MarketTypePerp, nil
	}
	return 0, fmt.Errorf("unknown market type %q", s)
}

func parseOrderType(s string) (orders.OrderType, error) {
	switch s {
	case "market":
		return orders.OrderTypeMarket, nil
	case "limit":
		return orders.OrderTypeLimit, nil
	case "trigger_limit":
		return orders.OrderTypeTriggerLimit, nil
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

func parseDirection(s string) (orders.Direction, error) {
	switch s {
	case "long":
		return orders.DirectionLong, nil
	case "short":
		return orders.DirectionShort, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func parseTriggerCondition(s string) (orders.TriggerCondition, error) {
	switch s {
	case "", "above":
		return orders.TriggerConditionAbove, nil
	case "below":
		return orders.TriggerConditionBelow, nil
	}
	return 0, fmt.Errorf("unknown trigger condition %q", s)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

func unavailable(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: err.Error()})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}

// errorStatus maps core errors onto HTTP statuses: malformed input is a 400,
// missing entities a 404, rejected preconditions a 409, an exhausted replay
// store a 429 and a stale or absent oracle price a 503.
func errorStatus(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrInvalidOrderParams),
		errors.Is(err, orders.ErrAuctionParamsRequired),
		errors.Is(err, orders.ErrUnsupportedOrderType),
		errors.Is(err, core.ErrMarketTypeUnsupported):
		status = fiber.StatusBadRequest
	case errors.Is(err, signing.ErrInvalidSignature):
		status = fiber.StatusUnauthorized
	case errors.Is(err, ledger.ErrMarketNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ledger.ErrMarketExists),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, core.ErrOrderStoreExists),
		errors.Is(err, core.ErrOrdersDontCross),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, risk.ErrNotLiquidatable),
		errors.Is(err, risk.ErrNotBankrupt),
		errors.Is(err, risk.ErrInvalidLiquidation),
		errors.Is(err, risk.ErrInsufficientLiquidatorCollateral),
		errors.Is(err, orders.ErrReplayDetected),
		errors.Is(err, orders.ErrStoreNotInitialized):
		status = fiber.StatusConflict
	case errors.Is(err, orders.ErrReplayStoreFull):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrNoPrice):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}
