package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/miracaEU/EnergyModelling/internal/pkg/datastore/mongodb"
	"github.com/miracaEU/EnergyModelling/internal/pkg/datastore/natshandler"
	"github.com/miracaEU/EnergyModelling/internal/pkg/datastore/postgres"
	"github.com/miracaEU/EnergyModelling/internal/pkg/pipeline"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
	"github.com/miracaEU/EnergyModelling/internal/pkg/webservice"
)

func main() {
	log.Println("[Main] Starting EnergyModelling core")
	configDir := flag.String("config", "./config", "configuration directory")
	flag.Parse()

	ctx := context.Background()

	log.Println("[Main] Connecting dataset repository")
	repo, err := postgres.New(filepath.Join(*configDir, "postgres.json"))
	if err != nil {
		panic(err)
	}
	defer repo.Close()

	log.Println("[Main] Loading source datasets")
	inputs, err := repo.Load(ctx)
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Building pipeline")
	p, err := pipeline.New(readResolverConfig(filepath.Join(*configDir, "resolver.json")))
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Connecting MongoDB audit store")
	mongoHandler, err := mongodb.New(filepath.Join(*configDir, "mongodb.json"), p)
	if err != nil {
		log.Println("[Main] MongoDB handler disabled:", err)
	} else {
		go mongoHandler.Process()
		defer mongoHandler.StopProcess()
	}

	log.Println("[Main] Connecting NATS stream")
	natsHandler, err := natshandler.New(filepath.Join(*configDir, "nats.json"), p)
	if err != nil {
		log.Println("[Main] NATS handler disabled:", err)
	} else {
		go natsHandler.Process()
		defer natsHandler.StopProcess()
	}

	log.Println("[Main] Running integration")
	run, err := p.Run(ctx, inputs, nil)
	if err != nil {
		panic(err)
	}

	an := run.AugmentedNetwork()
	log.Printf("[Main] Network %s: %d buses, %d steps, %d conservation warnings\n",
		an.State, len(an.Network.Buses()), an.Steps, len(an.Violations))

	app, err := webservice.New(filepath.Join(*configDir, "webservice.json"), run)
	if err != nil {
		panic(err)
	}
	if err := app.ListenAndServe(); err != nil {
		panic(err)
	}
}

func readResolverConfig(path string) resolve.Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Println("[Main] resolver config missing, using defaults:", err)
		return resolve.DefaultConfig()
	}
	cfg := resolve.Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Println("[Main] resolver config unreadable, using defaults:", err)
		return resolve.DefaultConfig()
	}
	return cfg
}
