package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"lendgate/config"
	"lendgate/native/authsig"
	nativecommon "lendgate/native/common"
	"lendgate/native/gateway"
	"lendgate/native/market"
	"lendgate/native/registry"
	"lendgate/native/settlement"
	"lendgate/native/token"
	"lendgate/observability"
	"lendgate/observability/logging"
	"lendgate/state"
	"lendgate/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lukechampine.com/blake3"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	metricsAddr := flag.String("metrics", ":9464", "Listen address for the metrics endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDGATE_ENV"))
	logger := logging.Setup("lendgate", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	gw, err := buildGateway(cfg, db, logger)
	if err != nil {
		logger.Error("Failed to wire gateway", slog.Any("error", err))
		os.Exit(1)
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if gw == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})
	logger.Info("lendgate started",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", cfg.ChainID),
		slog.String("metrics", *metricsAddr),
	)
	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		logger.Error("Metrics server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildGateway(cfg *config.Config, db storage.Database, logger *slog.Logger) (*gateway.Gateway, error) {
	registryAddr, err := config.DecodedAddress(cfg.RegistryAddress)
	if err != nil {
		return nil, err
	}
	settlementAddr, err := config.DecodedAddress(cfg.SettlementAddress)
	if err != nil {
		return nil, err
	}
	marketAddr, err := config.DecodedAddress(cfg.MarketAddress)
	if err != nil {
		return nil, err
	}
	feeSink, err := config.DecodedAddress(cfg.FeeSinkAddress)
	if err != nil {
		return nil, err
	}
	issuer, err := config.DecodedAddress(cfg.CollateralIssuer)
	if err != nil {
		return nil, err
	}
	sink, err := config.DecodedAddress(cfg.CirculationSink)
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	policy := &nativecommon.StaticPolicy{Sink: feeSink}

	ledger := token.NewLedger(issuer, sink)
	ledger.SetState(manager)

	reg := registry.NewRegistry(registryAddr, authsig.NewCodec(cfg.ChainID, registryAddr), policy)
	reg.SetState(manager)
	reg.SetCollateralLedger(ledger)
	reg.SetSettlementAddress(settlementAddr)
	reg.RequireEndorsement(cfg.RequireEndorsement)

	mkt := market.NewEngine(marketAddr, ledger)
	mkt.SetState(manager)
	if err := ensureDefaultMarket(cfg, manager, mkt, issuer, logger); err != nil {
		return nil, err
	}

	settle := settlement.NewEngine(settlementAddr, issuer, authsig.NewCodec(cfg.ChainID, settlementAddr), policy)
	settle.SetState(manager)
	settle.SetRegistry(reg)
	settle.SetMarket(mkt)
	settle.SetCollateralLedger(ledger)
	settle.SetUnitOfWork(manager)

	gw := gateway.New(reg, mkt, settle, ledger)
	gw.SetUnitOfWork(manager)
	gw.SetMetrics(observability.Gateway())
	gw.SetLogger(logger)
	return gw, nil
}

// ensureDefaultMarket provisions the configured market on first start. The
// identifier is derived from the network name and the risk parameters, so a
// config change yields a new market instead of silently mutating the old one.
func ensureDefaultMarket(cfg *config.Config, manager *state.Manager, mkt *market.Engine, issuer [20]byte, logger *slog.Logger) error {
	id := defaultMarketID(cfg, issuer)
	existing, err := manager.GetMarket(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	params := market.Params{
		CollateralToken: issuer,
		LLTVBps:         cfg.Market.LLTVBps,
		RateBps:         cfg.Market.RateBps,
	}
	if err := mkt.CreateMarket(id, params, market.PriceScale()); err != nil {
		return err
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	logger.Info("default market provisioned",
		slog.String("id", fmt.Sprintf("%x", id)),
		slog.Uint64("lltvBps", cfg.Market.LLTVBps),
		slog.Uint64("rateBps", cfg.Market.RateBps),
	)
	return nil
}

func defaultMarketID(cfg *config.Config, issuer [20]byte) [32]byte {
	buf := make([]byte, 0, len(cfg.NetworkName)+len(issuer)+16)
	buf = append(buf, cfg.NetworkName...)
	buf = append(buf, issuer[:]...)
	var risk [16]byte
	binary.BigEndian.PutUint64(risk[:8], cfg.Market.LLTVBps)
	binary.BigEndian.PutUint64(risk[8:], cfg.Market.RateBps)
	buf = append(buf, risk[:]...)
	return blake3.Sum256(buf)
}
