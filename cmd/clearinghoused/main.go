package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"clearinghouse/internal/config"
	"clearinghouse/internal/core"
	"clearinghouse/internal/event"
	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ingestion"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/observability"
	"clearinghouse/internal/orders"
	"clearinghouse/internal/persistence"
	"clearinghouse/internal/projection"
	"clearinghouse/internal/query"
	"clearinghouse/internal/server"
	"clearinghouse/internal/signing"
)

const snapshotCheckInterval = 10 * time.Second

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	log := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	log.Info().Str("service", cfg.Service.Name).Str("version", cfg.Service.Version).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("load snapshot")
	}
	startSequence := int64(0)
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	persistCoreChan := make(chan core.CoreOutput, cfg.Channels.PersistBuffer)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Channels.ProjectionBuffer)

	persistEnvChan := make(chan *event.Envelope, cfg.Channels.PersistBuffer)
	projectionEnvChan := make(chan *event.Envelope, cfg.Channels.ProjectionBuffer)
	publishEnvChan := make(chan *event.Envelope, cfg.Channels.PublishBuffer)
	priceChan := make(chan ingestion.PriceUpdate, cfg.Channels.PriceBuffer)

	// --- Core ---
	clearingHouse := core.NewClearingHouse(
		startSequence,
		signing.Ed25519Verifier{},
		cfg.Core.MaxOracleAgeTicks,
		persistCoreChan,
		projectionCoreChan,
		metrics,
	)

	if snap != nil {
		state, err := snapshotToCoreState(snap)
		if err != nil {
			log.Fatal().Err(err).Msg("decode snapshot")
		}
		if err := clearingHouse.RestoreFromSnapshot(state); err != nil {
			log.Fatal().Err(err).Msg("restore snapshot")
		}
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if got := clearingHouse.GetStateHash(); got != expected {
			log.Fatal().Hex("expected", expected[:]).Hex("got", got[:]).Msg("state hash mismatch after restore")
		}
		log.Info().Msg("state hash verified after snapshot restore")

		head, err := persistence.NewEventLogWriter(db).LastSequence(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("read event log head")
		} else if head > snap.Sequence {
			log.Warn().Int64("snapshot", snap.Sequence).Int64("head", head).
				Msg("event log extends past snapshot, those operations are not restored")
		}
	}

	runner := core.NewRunner(clearingHouse, 256, priceChan)

	// --- NATS ---
	var oracleSubscriber *ingestion.OracleSubscriber
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

		if err := ingestion.EnsurePriceStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure price stream")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure outbound stream")
		}

		oracleSubscriber = ingestion.NewOracleSubscriber(js, priceChan, metrics, observability.NewLogger("oracle"))
		if err := oracleSubscriber.Subscribe(ctx); err != nil {
			log.Fatal().Err(err).Msg("oracle subscribe")
		}

		publisher := ingestion.NewOutboundPublisher(js, publishEnvChan, observability.NewLogger("publisher"))
		go func() {
			if err := publisher.Run(ctx); err != nil {
				log.Error().Err(err).Msg("outbound publisher stopped")
			}
		}()
	}

	// --- Workers ---
	persistWorker := persistence.NewWorker(db, persistEnvChan, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics, observability.NewLogger("persist"))
	go func() {
		if err := persistWorker.Run(ctx); err != nil {
			log.Error().Err(err).Msg("persistence worker stopped")
		}
	}()

	projWorker := projection.NewWorker(db, projectionEnvChan, metrics, observability.NewLogger("projection"))
	go func() {
		if err := projWorker.Run(ctx); err != nil {
			log.Error().Err(err).Msg("projection worker stopped")
		}
	}()

	// Bridge: core outputs fan out to the persistence worker (blocking, the
	// event log must not lose writes), the projection worker and the outbound
	// publisher (both lossy).
	go bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistEnvChan, projectionEnvChan, publishEnvChan, metrics, cfg.NATS.Enabled)

	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("core runner stopped")
		}
	}()

	go runPeriodicSnapshots(ctx, runner, snapMgr, metrics, log)

	// --- HTTP API ---
	querySvc := query.NewService(db)
	srv := server.New(runner, querySvc, healthChecker, observability.NewLogger("http"))
	go func() {
		if err := srv.Listen(cfg.Server.ListenAddr); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", startSequence).
		Str("listen", cfg.Server.ListenAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("ready")

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	healthChecker.SetReady(false)

	// Snapshot before tearing anything down so a restart restores cleanly.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, runner, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	if oracleSubscriber != nil {
		oracleSubscriber.Stop()
	}
	if err := srv.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	metricsServer.Shutdown(shutdownCtx)

	cancel()
	// Give the persistence worker a moment for its final flush.
	time.Sleep(500 * time.Millisecond)

	log.Info().Msg("shutdown complete")
}

// bridgeCoreOutputs fans envelopes from the core channels out to the workers.
// The persist leg blocks so backpressure reaches the core; the projection and
// publish legs drop when full.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn, projectionIn <-chan core.CoreOutput,
	persistOut, projectionOut, publishOut chan<- *event.Envelope,
	metrics *observability.Metrics,
	publishEnabled bool,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}
			select {
			case persistOut <- output.Envelope:
			case <-ctx.Done():
				return
			}
			if publishEnabled {
				select {
				case publishOut <- output.Envelope:
				default:
					metrics.PublishDrops.Inc()
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}
			select {
			case projectionOut <- output.Envelope:
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

func runPeriodicSnapshots(ctx context.Context, runner *core.Runner, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics, log zerolog.Logger) {
	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	var lastSnapshotSeq int64 = -1
	const interval = 10_000

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var seq int64
			if err := runner.Do(ctx, func(ch *core.ClearingHouse) {
				seq = ch.Sequence()
			}); err != nil {
				return
			}
			if seq-lastSnapshotSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, runner, snapMgr, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = seq
			log.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

func takeSnapshot(ctx context.Context, runner *core.Runner, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) error {
	start := time.Now()

	var state *core.SnapshotState
	if err := runner.Do(ctx, func(ch *core.ClearingHouse) {
		state = ch.CreateSnapshotState()
	}); err != nil {
		return err
	}

	data := coreStateToSnapshot(state)
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		return err
	}
	// A snapshot cut from live state needs no replay verification.
	if err := snapMgr.MarkVerified(ctx, data.Sequence); err != nil {
		return err
	}

	metrics.SnapshotsTotal.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}

// coreStateToSnapshot converts the core's in-memory copy into the
// persistence shape. Keeping the conversion here avoids a core dependency on
// the persistence package.
func coreStateToSnapshot(state *core.SnapshotState) *persistence.SnapshotData {
	data := &persistence.SnapshotData{
		Sequence:  state.Sequence,
		StateHash: state.StateHash[:],
		PrevHash:  state.StateHash[:],
		CreatedAt: time.Now(),
	}

	for _, m := range state.Markets {
		data.Markets = append(data.Markets, persistence.MarketSnapshot{
			MarketIndex:                m.MarketIndex,
			Name:                       m.Name,
			Decimals:                   m.Decimals,
			OracleKey:                  m.OracleKey,
			DepositBalanceScaled:       m.DepositBalanceScaled,
			BorrowBalanceScaled:        m.BorrowBalanceScaled,
			CumulativeDepositInterest:  m.CumulativeDepositInterest,
			CumulativeBorrowInterest:   m.CumulativeBorrowInterest,
			OptimalUtilization:         m.RateCurve.OptimalUtilization,
			OptimalRate:                m.RateCurve.OptimalRate,
			MaxRate:                    m.RateCurve.MaxRate,
			LastInterestTs:             m.LastInterestTs,
			MaintenanceAssetWeight:     m.MaintenanceAssetWeight,
			MaintenanceLiabilityWeight: m.MaintenanceLiabilityWeight,
			LiquidatorFee:              m.LiquidatorFee,
			IfLiquidationFee:           m.IfLiquidationFee,
			InsuranceFundBalance:       m.InsuranceFundBalance,
		})
	}

	for i := range state.Accounts {
		as := &state.Accounts[i]
		acc := persistence.AccountSnapshot{
			AccountID:         as.Account.Key.AccountID.String(),
			SubAccountID:      as.Account.Key.SubAccountID,
			Authority:         as.Account.Authority,
			IsBeingLiquidated: as.Account.IsBeingLiquidated,
			IsBankrupt:        as.Account.IsBankrupt,
			NextLiquidationID: as.Account.NextLiquidationID,
			NextOrderID:       as.Account.NextOrderID,
			HasOrderStore:     as.HasOrderStore,
		}
		for _, p := range as.Account.SpotPositions {
			acc.SpotPositions = append(acc.SpotPositions, persistence.PositionSnapshot{
				MarketIndex:   p.MarketIndex,
				ScaledBalance: p.ScaledBalance,
				BalanceType:   uint8(p.BalanceType),
			})
		}
		for _, p := range as.Account.PerpPositions {
			acc.PerpPositions = append(acc.PerpPositions, persistence.PerpPositionSnapshot{
				MarketIndex:      p.MarketIndex,
				BaseAssetAmount:  p.BaseAssetAmount,
				QuoteAssetAmount: p.QuoteAssetAmount,
			})
		}
		for _, e := range as.ReplayEntries {
			acc.ReplayEntries = append(acc.ReplayEntries, persistence.ReplayEntrySnapshot{
				Hash:    e.Hash,
				MaxSlot: e.MaxSlot,
			})
		}
		for j := range as.OpenOrders {
			os := &as.OpenOrders[j]
			o := os.Order
			snap := persistence.OrderSnapshot{
				OrderID:           o.OrderID,
				MarketIndex:       o.MarketIndex,
				MarketType:        uint8(o.MarketType),
				Type:              uint8(o.Type),
				Direction:         uint8(o.Direction),
				BaseAssetAmount:   o.BaseAssetAmount,
				BaseFilled:        o.BaseFilled,
				Price:             o.Price,
				AuctionStartPrice: o.AuctionStartPrice,
				AuctionEndPrice:   o.AuctionEndPrice,
				AuctionDuration:   o.AuctionDuration,
				HasAuction:        o.HasAuction,
				PostOnly:          o.PostOnly,
				ImmediateOrCancel: o.ImmediateOrCancel,
				TriggerPrice:      o.TriggerPrice,
				TriggerCondition:  uint8(o.TriggerCondition),
				Slot:              o.Slot,
				SignedOrigin:      os.SignedOrigin,
			}
			if os.TakeProfit != nil {
				snap.TakeProfit = triggerSnapshot(os.TakeProfit)
			}
			if os.StopLoss != nil {
				snap.StopLoss = triggerSnapshot(os.StopLoss)
			}
			acc.OpenOrders = append(acc.OpenOrders, snap)
		}
		data.Accounts = append(data.Accounts, acc)
	}

	return data
}

func triggerSnapshot(t *orders.TriggerParams) *persistence.TriggerParamsSnapshot {
	return &persistence.TriggerParamsSnapshot{
		TriggerPrice:     t.TriggerPrice,
		BaseAssetAmount:  t.BaseAssetAmount,
		TriggerCondition: uint8(t.TriggerCondition),
	}
}

func snapshotToCoreState(snap *persistence.SnapshotData) (*core.SnapshotState, error) {
	state := &core.SnapshotState{Sequence: snap.Sequence}
	copy(state.StateHash[:], snap.StateHash)

	for _, m := range snap.Markets {
		state.Markets = append(state.Markets, ledger.Market{
			MarketIndex:               m.MarketIndex,
			Name:                      m.Name,
			Decimals:                  m.Decimals,
			OracleKey:                 m.OracleKey,
			DepositBalanceScaled:      m.DepositBalanceScaled,
			BorrowBalanceScaled:       m.BorrowBalanceScaled,
			CumulativeDepositInterest: m.CumulativeDepositInterest,
			CumulativeBorrowInterest:  m.CumulativeBorrowInterest,
			RateCurve: fpmath.RateCurve{
				OptimalUtilization: m.OptimalUtilization,
				OptimalRate:        m.OptimalRate,
				MaxRate:            m.MaxRate,
			},
			LastInterestTs:             m.LastInterestTs,
			MaintenanceAssetWeight:     m.MaintenanceAssetWeight,
			MaintenanceLiabilityWeight: m.MaintenanceLiabilityWeight,
			LiquidatorFee:              m.LiquidatorFee,
			IfLiquidationFee:           m.IfLiquidationFee,
			InsuranceFundBalance:       m.InsuranceFundBalance,
		})
	}

	for i := range snap.Accounts {
		acc := &snap.Accounts[i]
		accountID, err := uuid.Parse(acc.AccountID)
		if err != nil {
			return nil, err
		}
		key := ledger.AccountKey{AccountID: accountID, SubAccountID: acc.SubAccountID}

		as := core.AccountState{
			Account: ledger.Account{
				Key:               key,
				Authority:         acc.Authority,
				IsBeingLiquidated: acc.IsBeingLiquidated,
				IsBankrupt:        acc.IsBankrupt,
				NextLiquidationID: acc.NextLiquidationID,
				NextOrderID:       acc.NextOrderID,
			},
			HasOrderStore: acc.HasOrderStore,
		}
		for _, p := range acc.SpotPositions {
			as.Account.SpotPositions = append(as.Account.SpotPositions, &ledger.SpotPosition{
				MarketIndex:   p.MarketIndex,
				ScaledBalance: p.ScaledBalance,
				BalanceType:   ledger.BalanceType(p.BalanceType),
			})
		}
		for _, p := range acc.PerpPositions {
			as.Account.PerpPositions = append(as.Account.PerpPositions, &ledger.PerpPosition{
				MarketIndex:      p.MarketIndex,
				BaseAssetAmount:  p.BaseAssetAmount,
				QuoteAssetAmount: p.QuoteAssetAmount,
			})
		}
		for _, e := range acc.ReplayEntries {
			as.ReplayEntries = append(as.ReplayEntries, orders.ReplayEntry{
				Hash:    e.Hash,
				MaxSlot: e.MaxSlot,
			})
		}
		for _, o := range acc.OpenOrders {
			os := core.OrderState{
				Order: orders.Order{
					OrderID:           o.OrderID,
					Owner:             key,
					MarketIndex:       o.MarketIndex,
					MarketType:        orders.MarketType(o.MarketType),
					Type:              orders.OrderType(o.Type),
					Direction:         orders.Direction(o.Direction),
					BaseAssetAmount:   o.BaseAssetAmount,
					BaseFilled:        o.BaseFilled,
					Price:             o.Price,
					AuctionStartPrice: o.AuctionStartPrice,
					AuctionEndPrice:   o.AuctionEndPrice,
					AuctionDuration:   o.AuctionDuration,
					HasAuction:        o.HasAuction,
					PostOnly:          o.PostOnly,
					ImmediateOrCancel: o.ImmediateOrCancel,
					TriggerPrice:      o.TriggerPrice,
					TriggerCondition:  orders.TriggerCondition(o.TriggerCondition),
					Slot:              o.Slot,
					Status:            orders.OrderStatusOpen,
				},
				SignedOrigin: o.SignedOrigin,
			}
			if o.TakeProfit != nil {
				os.TakeProfit = &orders.TriggerParams{
					TriggerPrice:     o.TakeProfit.TriggerPrice,
					BaseAssetAmount:  o.TakeProfit.BaseAssetAmount,
					TriggerCondition: orders.TriggerCondition(o.TakeProfit.TriggerCondition),
				}
			}
			if o.StopLoss != nil {
				os.StopLoss = &orders.TriggerParams{
					TriggerPrice:     o.StopLoss.TriggerPrice,
					BaseAssetAmount:  o.StopLoss.BaseAssetAmount,
					TriggerCondition: orders.TriggerCondition(o.StopLoss.TriggerCondition),
				}
			}
			as.OpenOrders = append(as.OpenOrders, os)
		}
		state.Accounts = append(state.Accounts, as)
	}

	return state, nil
}
