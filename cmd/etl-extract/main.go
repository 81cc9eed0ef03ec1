// Command etl-extract runs the extract step of one pipeline job and writes
// the records as newline-delimited JSON. With LOAD=true the records are then
// sent to the job's API target.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/etl-api-client/pkg/cache"
	"github.com/Sternrassler/etl-api-client/pkg/config"
	"github.com/Sternrassler/etl-api-client/pkg/extract"
	"github.com/Sternrassler/etl-api-client/pkg/logging"
	"github.com/Sternrassler/etl-api-client/pkg/metrics"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
)

// errMissingSetting is returned when a required environment variable is unset.
var errMissingSetting = errors.New("missing required setting")

// settings is the command configuration, read from the environment.
type settings struct {
	PipelinePath string
	Job          string
	Output       string
	RedisURL     string
	CacheRefresh bool
	Load         bool
	MetricsAddr  string
}

func loadSettings() (settings, error) {
	s := settings{
		PipelinePath: getEnv("PIPELINE_CONFIG", ""),
		Job:          getEnv("JOB", ""),
		Output:       getEnv("OUTPUT", "-"),
		RedisURL:     getEnv("REDIS_URL", ""),
		CacheRefresh: getEnv("CACHE_REFRESH", "false") == "true",
		Load:         getEnv("LOAD", "false") == "true",
		MetricsAddr:  getEnv("METRICS_ADDR", ""),
	}
	if s.PipelinePath == "" {
		return s, fmt.Errorf("%w: PIPELINE_CONFIG", errMissingSetting)
	}
	if s.Job == "" {
		return s, fmt.Errorf("%w: JOB", errMissingSetting)
	}
	return s, nil
}

func main() {
	logCfg := logging.FromEnv(os.Getenv)
	logCfg.Service = "etl-extract"
	logging.Setup(logCfg)

	s, err := loadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if s.RedisURL != "" {
		redisClient, err = newRedisClient(s.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("redis", s.RedisURL).Msg("Failed to connect to Redis")
		}
		log.Info().Str("redis", s.RedisURL).Msg("Response cache enabled")
	}

	if s.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              s.MetricsAddr,
			Handler:           newMux(redisClient),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", s.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	out := io.Writer(os.Stdout)
	if s.Output != "-" {
		f, err := os.Create(s.Output)
		if err != nil {
			log.Fatal().Err(err).Str("output", s.Output).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	n, err := run(ctx, s, redisClient, out)
	if err != nil {
		log.Error().Err(err).Str("job", s.Job).Int("records", n).Msg("Extract failed")
		stop()
		os.Exit(1)
	}
	log.Info().Str("job", s.Job).Int("records", n).Msg("Extract finished")
}

// run extracts the configured job and writes its records to out.
func run(ctx context.Context, s settings, redisClient *redis.Client, out io.Writer) (int, error) {
	pipeline, err := config.LoadPipeline(s.PipelinePath)
	if err != nil {
		return 0, err
	}

	cfg := extract.Config{Pipeline: pipeline}
	if redisClient != nil {
		cfg.Cache = cache.NewManager(redisClient)
	}
	runner, err := extract.New(cfg)
	if err != nil {
		return 0, err
	}
	if s.CacheRefresh {
		if _, err := runner.PurgeCache(ctx, s.Job); err != nil {
			return 0, err
		}
	}
	if !s.Load {
		return writeRecords(out, runner.Records(ctx, s.Job))
	}

	batch := []pagination.Record{}
	n, err := writeRecords(out, collect(runner.Records(ctx, s.Job), &batch))
	if err != nil {
		return n, err
	}
	res, err := runner.Load(ctx, s.Job, batch)
	if err != nil {
		return n, err
	}
	log.Info().
		Str("job", s.Job).
		Str("target", res.Target).
		Str("method", res.Method).
		Int("records", res.Records).
		Msg("Load finished")
	return n, nil
}

// collect appends every record of records to into while passing it on.
func collect(records iter.Seq2[pagination.Record, error], into *[]pagination.Record) iter.Seq2[pagination.Record, error] {
	return func(yield func(pagination.Record, error) bool) {
		for rec, err := range records {
			if err == nil {
				*into = append(*into, rec)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// writeRecords encodes each record as one JSON line and stops at the first
// error.
func writeRecords(w io.Writer, records iter.Seq2[pagination.Record, error]) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for rec, err := range records {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("write record %d: %w", n+1, err)
		}
		n++
	}
	return n, nil
}

func newRedisClient(raw string) (*redis.Client, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}

func newMux(redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the cache backend is unreachable. Without
// a cache the command is always ready.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
