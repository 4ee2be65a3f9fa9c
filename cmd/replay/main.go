// Command replay feeds a captured telemetry log (one JSON message per
// line) through the localization filter offline and prints the resulting
// estimates. Useful for tuning threshold profiles against recorded walks
// without a broker.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/indoor-data/personnelloc/internal/config"
	"github.com/indoor-data/personnelloc/internal/store"
	"github.com/indoor-data/personnelloc/internal/telemetry"
	"github.com/indoor-data/personnelloc/internal/track"
)

var (
	configPath = flag.String("config", "", "YAML configuration file for the localization service")
	inputPath  = flag.String("input", "", "Telemetry capture file, one JSON message per line")
	trackerID  = flag.String("tracker", "", "Tracker id from the configuration to replay (defaults to the first)")
	dbFile     = flag.String("db", "", "Optional SQLite file to persist the replayed estimates")
)

func main() {
	flag.Parse()

	if *configPath == "" || *inputPath == "" {
		log.Fatal("both -config and -input are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	tc := cfg.Trackers[0]
	if *trackerID != "" {
		found := false
		for _, t := range cfg.Trackers {
			if t.ID == *trackerID {
				tc = t
				found = true
				break
			}
		}
		if !found {
			log.Fatalf("tracker %q not found in configuration", *trackerID)
		}
	}

	profile, err := tc.Algorithm.Profile()
	if err != nil {
		log.Fatalf("tracker %s: %v", tc.ID, err)
	}
	registry, err := track.NewRegistry(profile)
	if err != nil {
		log.Fatalf("tracker %s: %v", tc.ID, err)
	}
	if tc.Start != nil {
		if err := registry.RegisterStart(tc.ID, tc.Start); err != nil {
			log.Fatalf("tracker %s: invalid start coordinates: %v", tc.ID, err)
		}
	}

	var db *store.Store
	if *dbFile != "" {
		db, err = store.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open estimate store: %v", err)
		}
		defer db.Close()
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("failed to open input file: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(os.Stdout)
	var processed, dropped int
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}
		m, err := telemetry.DecodeMeasurement(line, profile.Dimension, profile.Model)
		if err != nil {
			dropped++
			log.Printf("dropped line %d: %v", processed+dropped, err)
			continue
		}
		est, _, err := registry.Observe(m)
		if err != nil {
			dropped++
			log.Printf("dropped measurement for %q: %v", m.PersonnelID, err)
			continue
		}
		processed++
		if db != nil {
			if err := db.RecordEstimate(est); err != nil {
				log.Printf("failed to record estimate: %v", err)
			}
		}
		if err := enc.Encode(est); err != nil {
			log.Fatalf("failed to write estimate: %v", err)
		}
	}
	if err := scan.Err(); err != nil {
		log.Fatalf("failed to read input: %v", err)
	}

	log.Printf("replay complete: %d estimates, %d dropped", processed, dropped)
}
