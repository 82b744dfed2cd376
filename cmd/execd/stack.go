package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/coordinator"
	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/gateway"
	"github.com/cuemby/execd/pkg/intentmgr"
	"github.com/cuemby/execd/pkg/orchestrator"
	"github.com/cuemby/execd/pkg/planner"
	"github.com/cuemby/execd/pkg/storage"
	"github.com/cuemby/execd/pkg/types"
	"github.com/cuemby/execd/pkg/venue"
	"github.com/cuemby/execd/pkg/venue/uniswapv3"
)

// stack wires every component into a single process against one data
// directory: bus, coordinator, intent manager, planner, orchestrator,
// and gateway, all sharing the durable stores opened here.
type stack struct {
	bus          *events.Bus
	coordinator  *coordinator.Coordinator
	intentMgr    *intentmgr.Manager
	planner      *planner.Planner
	orchestrator *orchestrator.Orchestrator
	gateway      *gateway.Gateway

	// adapter is the concrete uniswap_v3 adapter behind orchestrator's
	// venue.Adapter interface. Exposed for tests that script receipt
	// behavior (reverted-then-success, slow settlement); run never
	// touches it directly.
	adapter *uniswapv3.Adapter
}

// defaultPools seeds the bundled uniswap_v3 mock adapter with a fixed
// starter set of pools; there is no pool configuration file format,
// so this is a CLI default, not a general mechanism.
func defaultPools() map[string]*uniswapv3.Pool {
	return map[string]*uniswapv3.Pool{
		"WETH/USDC": {
			Reserve0: decimal.NewFromInt(1_000),
			Reserve1: decimal.NewFromInt(3_000_000),
			FeeBps:   30,
		},
		"WBTC/USDC": {
			Reserve0: decimal.NewFromInt(200),
			Reserve1: decimal.NewFromInt(12_000_000),
			FeeBps:   30,
		},
	}
}

// buildStack constructs and starts every component against dataDir. The
// returned stop func shuts everything down in reverse dependency order;
// callers must invoke it exactly once.
func buildStack(ctx context.Context, dataDir string) (*stack, func(), error) {
	bus := events.NewBus(events.Config{
		DedupWindow: time.Duration(envInt("BUS_DEDUP_WINDOW_SECONDS", 120)) * time.Second,
	})

	es, err := storage.NewEventStore(dataDir)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("open event store: %w", err)
	}
	rms, err := storage.NewReadModelStore(dataDir)
	if err != nil {
		es.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("open read model store: %w", err)
	}

	coord, err := coordinator.New(coordinator.Config{
		NodeID:   envString("NODE_ID", "execd-1"),
		BindAddr: envString("RAFT_BIND_ADDR", "127.0.0.1:7950"),
		DataDir:  dataDir,
	}, bus, es, rms)
	if err != nil {
		rms.Close()
		es.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("construct coordinator: %w", err)
	}
	if err := coord.Start(ctx); err != nil {
		rms.Close()
		es.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("start coordinator: %w", err)
	}

	adapter := uniswapv3.NewAdapter(defaultPools())
	var venueAdapter venue.Adapter = adapter

	priceUSD := func(target, quote types.Asset) (decimal.Decimal, error) {
		q, err := adapter.PriceQuote(context.Background(), target, quote, decimal.NewFromInt(1))
		if err != nil {
			return decimal.Zero, err
		}
		return q.AmountOut, nil
	}

	intentMgr := intentmgr.New(bus, riskConfigFromEnv(), priceUSD)

	route := func(ctx context.Context, base, quote types.Asset, amountIn decimal.Decimal) (planner.Route, error) {
		q, err := adapter.PriceQuote(ctx, base, quote, amountIn)
		if err != nil {
			return planner.Route{}, err
		}
		return planner.Route{AmountOut: q.AmountOut, Path: []string{envString("VENUE", "uniswap_v3")}}, nil
	}
	plan := planner.New(bus, coord, route)
	if err := plan.Start(ctx); err != nil {
		coord.Stop()
		rms.Close()
		es.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("start planner: %w", err)
	}

	orch := orchestrator.New(bus, venueAdapter)
	if err := orch.Start(ctx); err != nil {
		plan.Stop()
		coord.Stop()
		rms.Close()
		es.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("start orchestrator: %w", err)
	}

	gw := gateway.New(bus, coord, envInt("GATEWAY_QUEUE_DEPTH", 1024))

	s := &stack{
		bus:          bus,
		coordinator:  coord,
		intentMgr:    intentMgr,
		planner:      plan,
		orchestrator: orch,
		gateway:      gw,
		adapter:      adapter,
	}

	stop := func() {
		orch.Stop()
		plan.Stop()
		coord.Stop()
		rms.Close()
		es.Close()
		bus.Close()
	}
	return s, stop, nil
}
