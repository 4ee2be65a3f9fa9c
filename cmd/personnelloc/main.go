// Command personnelloc runs the personnel localization service: it
// subscribes to raw telemetry for every configured tracker, runs the
// robust adaptive Kalman filter per person, and publishes the filtered
// position estimates back to the broker, the estimate database and the
// live WebSocket feed.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/indoor-data/personnelloc/internal/broker"
	"github.com/indoor-data/personnelloc/internal/config"
	"github.com/indoor-data/personnelloc/internal/rakf"
	"github.com/indoor-data/personnelloc/internal/store"
	"github.com/indoor-data/personnelloc/internal/telemetry"
	"github.com/indoor-data/personnelloc/internal/track"
	"github.com/indoor-data/personnelloc/internal/web"
)

var (
	configPath = flag.String("config", "", "YAML configuration file for the localization service")
	listen     = flag.String("listen", ":8080", "Listen address for the HTTP/WebSocket server")
	dbFile     = flag.String("db", "estimates.db", "SQLite file for estimate persistence")
)

// pipeline joins one configured tracker's subscription to the filter
// registry and the publication sinks.
type pipeline struct {
	id         string
	profile    rakf.Profile
	registry   *track.Registry
	publishers []*broker.Publisher
	store      *store.Store
	hub        *web.Hub

	dropped atomic.Int64
}

// handleTelemetry decodes one raw payload, steps the filter and fans the
// estimate out. Malformed payloads are dropped and counted; they never
// reach a filter. Per-message errors never stop the pipeline.
func (p *pipeline) handleTelemetry(ctx context.Context, routingKey string, body []byte) {
	m, err := telemetry.DecodeMeasurement(body, p.profile.Dimension, p.profile.Model)
	if err != nil {
		p.dropped.Add(1)
		log.Printf("tracker %s: dropped message on %q: %v", p.id, routingKey, err)
		return
	}

	// The binding key carries this tracker's id as its suffix; a payload
	// claiming another id has been misrouted and must not feed the filter.
	if m.PersonnelID != p.id {
		p.dropped.Add(1)
		log.Printf("tracker %s: dropped message on %q: payload id %q does not match binding",
			p.id, routingKey, m.PersonnelID)
		return
	}

	est, _, err := p.registry.Observe(m)
	if err != nil {
		p.dropped.Add(1)
		log.Printf("tracker %s: dropped measurement for %q: %v", p.id, m.PersonnelID, err)
		return
	}

	payload, err := telemetry.EncodeEstimate(est)
	if err != nil {
		log.Printf("tracker %s: failed to encode estimate: %v", p.id, err)
		return
	}

	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, payload); err != nil {
			log.Printf("tracker %s: publish to %s failed: %v", p.id, pub.Exchange(), err)
		}
	}
	if p.store != nil {
		if err := p.store.RecordEstimate(est); err != nil {
			log.Printf("tracker %s: failed to record estimate: %v", p.id, err)
		}
	}
	if p.hub != nil {
		p.hub.Broadcast(payload)
	}
}

// registrySet aggregates per-tracker registries for the web snapshot.
type registrySet []*track.Registry

func (rs registrySet) Snapshot() []rakf.Estimate {
	var out []rakf.Estimate
	for _, r := range rs {
		out = append(out, r.Snapshot()...)
	}
	return out
}

func (rs registrySet) Len() int {
	n := 0
	for _, r := range rs {
		n += r.Len()
	}
	return n
}

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("config file is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("personnel localization service, config version %s, %d tracker(s)",
		cfg.Version, len(cfg.Trackers))

	db, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open estimate store: %v", err)
	}
	defer db.Close()
	log.Printf("estimate store open, run %s", db.RunID())

	client, err := broker.Dial(cfg.Broker.URL)
	if err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer client.Close()

	hub := web.NewHub()

	// Build one pipeline per configured tracker.
	var registries registrySet
	type subscription struct {
		p   *pipeline
		sub *broker.Subscriber
	}
	var subscriptions []subscription

	for _, tc := range cfg.Trackers {
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
		registries = append(registries, registry)

		p := &pipeline{
			id:       tc.ID,
			profile:  profile,
			registry: registry,
			store:    db,
			hub:      hub,
		}

		for _, e := range tc.Protocol.Publishers {
			ch, err := client.Channel()
			if err != nil {
				log.Fatalf("tracker %s: %v", tc.ID, err)
			}
			pub, err := broker.NewPublisher(ch, e.Exchange, e.BindingKey, tc.ID)
			if err != nil {
				log.Fatalf("tracker %s: %v", tc.ID, err)
			}
			p.publishers = append(p.publishers, pub)
		}

		for _, e := range tc.Protocol.Subscribers {
			ch, err := client.Channel()
			if err != nil {
				log.Fatalf("tracker %s: %v", tc.ID, err)
			}
			sub, err := broker.NewSubscriber(ch, e.Exchange, e.BindingKey, tc.ID)
			if err != nil {
				log.Fatalf("tracker %s: %v", tc.ID, err)
			}
			subscriptions = append(subscriptions, subscription{p: p, sub: sub})
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// hub dispatcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// one consume loop per subscription; ordering per identifier is
	// preserved inside each loop
	for _, s := range subscriptions {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			err := s.sub.Consume(ctx, func(routingKey string, body []byte) {
				s.p.handleTelemetry(ctx, routingKey, body)
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("tracker %s: consume loop terminated: %v", s.p.id, err)
			}
		}(s)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: web.NewServer(registries, hub).ServeMux(),
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
