package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kinetic-rehab/reach.report/internal/alerts"
	"github.com/kinetic-rehab/reach.report/internal/api"
	"github.com/kinetic-rehab/reach.report/internal/config"
	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/pose"
	"github.com/kinetic-rehab/reach.report/internal/session"
	"github.com/kinetic-rehab/reach.report/internal/worker"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", "", "Path to tuning config JSON (default: built-in defaults)")
	side        = flag.String("side", "RIGHT", "Active reaching arm: LEFT or RIGHT")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL for safety alerts (disabled when empty)")
	mqttTopic   = flag.String("mqtt-topic", "reach/alerts", "MQTT topic for safety alerts")
	mqttClient  = flag.String("mqtt-client-id", "reach-report-engine", "MQTT client identifier")
)

func main() {
	flag.Parse()

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	eng, err := engine.New(engine.ConfigFromTuning(cfg), pose.Side(*side))
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	sess := session.New(session.Config{
		MinValidReachCm:   cfg.GetMinValidReachCm(),
		Cooldown:          cfg.GetCooldown(),
		TrialsPerSession:  cfg.GetTrialsPerSession(),
		ReachFullCreditCm: cfg.GetReachFullCreditCm(),
	})

	var notifier *alerts.Notifier
	if *mqttBroker != "" {
		sink, err := alerts.NewMQTTSink(*mqttBroker, *mqttClient, *mqttTopic)
		if err != nil {
			log.Fatalf("failed to connect alert sink: %v", err)
		}
		defer sink.Close()
		notifier = alerts.NewNotifier(sink, cfg.GetAlertMinInterval())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewResultHub()
	go hub.Run(ctx)

	w := worker.New(eng, sess, cfg.GetFrameQueueSize(), func(res engine.Result) {
		hub.Broadcast(res)
		if notifier != nil {
			notifier.Observe(sess.SessionID(), res)
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
		<-w.Done()
		log.Print("worker routine terminated")
	}()

	srv := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(api.NewServer(w, sess, hub).ServeMux()),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("serving on %s (side=%s, queue=%d)", *listen, *side, cfg.GetFrameQueueSize())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	wg.Wait()
}
