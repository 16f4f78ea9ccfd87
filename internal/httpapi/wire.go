package httpapi

import (
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/internal/oplog"
	"github.com/MarkoPoloResearchLab/berth/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Wiring names the process-wide collaborators of WireServices.
type Wiring struct {
	Store *gormstore.Store
	// Wallet replaces the store's balances when set.
	Wallet     Wallet
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Now        func() time.Time
}

// WireServices builds the market core over the gorm store. Operation logs go
// to zap and to the prometheus counters.
func WireServices(cfg config.Config, wiring Wiring) (Services, error) {
	if wiring.Store == nil {
		return Services{}, fmt.Errorf("wire services: store is nil")
	}
	if wiring.Logger == nil {
		wiring.Logger = zap.NewNop()
	}
	if wiring.Registerer == nil {
		registry := prometheus.NewRegistry()
		wiring.Registerer = registry
		if wiring.Gatherer == nil {
			wiring.Gatherer = registry
		}
	}
	if wiring.Now == nil {
		wiring.Now = time.Now
	}
	metrics, err := oplog.NewMetrics(wiring.Registerer)
	if err != nil {
		return Services{}, fmt.Errorf("wire services: %w", err)
	}
	operationLogger := oplog.Fanout(oplog.NewZapLogger(wiring.Logger), metrics)
	store := wiring.Store
	wallet := wiring.Wallet
	if wallet == nil {
		wallet = store.Balances()
	}

	ledger, err := market.NewAuctionLedger(store, wiring.Now, market.WithOperationLogger(operationLogger))
	if err != nil {
		return Services{}, fmt.Errorf("wire services: %w", err)
	}
	reservations, err := market.NewReservations(store, wallet, store, wiring.Now,
		market.WithOperationLogger(operationLogger),
		market.WithSlotSource(store),
		market.WithOrphanReporter(store),
		market.WithClaimTimeout(cfg.ClaimTimeout),
	)
	if err != nil {
		return Services{}, fmt.Errorf("wire services: %w", err)
	}
	availability, err := market.NewAvailability(store, wiring.Now, cfg.Location())
	if err != nil {
		return Services{}, fmt.Errorf("wire services: %w", err)
	}
	return Services{
		Catalog:      store,
		Wallet:       wallet,
		Ledger:       ledger,
		Reservations: reservations,
		Availability: availability,
		Gatherer:     wiring.Gatherer,
	}, nil
}
