package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-sync/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total rider location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	cacheUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_updates_total",
		Help: "Total successful cache updates",
	})
	cacheErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_errors_total",
		Help: "Total cache errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, cacheUpdates, cacheErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "rider-locations"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-sync-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	cadapter := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var up models.LocationUpdate
		if err := json.Unmarshal(m.Value, &up); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}
		if up.UserName == "" || up.RideCode == "" || up.Latitude == nil || up.Longitude == nil {
			msgsInvalid.Inc()
			log.Printf("incomplete location update for ride=%s user=%s", up.RideCode, up.UserName)
			continue
		}

		// Mirror the update into the cache with retries and small backoff
		if err := updateCacheWithRetry(ctx, cadapter, &up, 3, 200*time.Millisecond); err != nil {
			cacheErrors.Inc()
			log.Printf("cache update failed for ride=%s user=%s: %v", up.RideCode, up.UserName, err)
			continue
		}
		cacheUpdates.Inc()
	}
}

// CacheUpdater defines the small subset of redis operations we need for tests and production.
type CacheUpdater interface {
	HSet(ctx context.Context, key, field, value string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key, field, value string) error {
	_, err := r.c.HSet(ctx, key, field, value).Result()
	return err
}

// updateCacheWithRetry writes the last-known position using the CacheUpdater interface with retry/backoff.
func updateCacheWithRetry(ctx context.Context, cc CacheUpdater, up *models.LocationUpdate, attempts int, delay time.Duration) error {
	key := "ride_locations:" + up.RideCode
	value := strconv.FormatFloat(*up.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(*up.Longitude, 'f', -1, 64)
	var err error
	for i := 0; i < attempts; i++ {
		if err = cc.HSet(ctx, key, up.UserName, value); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
