// Replays a JSONL trade capture through the rolling windows and prints
// the orderflow-only composite per coin, one JSON record per line.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"hyperliquid-signals-go/config"
	"hyperliquid-signals-go/funding"
	"hyperliquid-signals-go/infrastructure/logger"
	fusion "hyperliquid-signals-go/signal"
	"hyperliquid-signals-go/sim"
	"hyperliquid-signals-go/vault"
)

// The remaining producers have no offline data; the engine renormalizes
// all weight onto orderflow.
type noWhales struct{}

func (noWhales) Consensus(string) (float64, float64) { return 0, 0 }

type noVault struct{}

func (noVault) Latest(string) (vault.Signal, bool) { return vault.Signal{}, false }

type noFunding struct{}

func (noFunding) Latest(string) (funding.Signal, bool) { return funding.Signal{}, false }

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	capture := flag.String("capture", "", "JSONL trade capture path")
	flag.Parse()

	if *capture == "" {
		log.Fatal("capture file is required (-capture)")
	}
	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	windows, err := cfg.Orderflow.WindowDurations()
	if err != nil {
		log.Fatalf("orderflow windows: %v", err)
	}

	replayer, err := sim.BuildReplayer(sim.ReplayConfig{
		Coins:      cfg.Coins,
		Windows:    windows,
		Thresholds: cfg.Orderflow.LargeThresholds,
	})
	if err != nil {
		log.Fatalf("build replayer: %v", err)
	}
	if err := replayer.ReplayFile(*capture); err != nil {
		log.Fatalf("replay: %v", err)
	}
	log.Printf("replayed %d prints (%d dropped)", replayer.Accepted, replayer.Dropped)

	engine, err := fusion.New(fusion.Config{
		Coins:    cfg.Coins,
		Interval: time.Minute,
		Weights:  fusion.DefaultWeights(),
	}, fusion.Components{
		Orderflow: replayer.Aggregator(),
		Whales:    noWhales{},
		Vault:     noVault{},
		Funding:   noFunding{},
		Logger:    logger.Nop(),
	})
	if err != nil {
		log.Fatalf("init fusion engine: %v", err)
	}

	engine.RunCycle(replayer.Clock().Now())

	enc := json.NewEncoder(os.Stdout)
	for _, composite := range engine.All() {
		if err := enc.Encode(composite.Flatten()); err != nil {
			log.Fatalf("encode composite: %v", err)
		}
	}
}
