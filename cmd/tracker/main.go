// Package main is the entry point for the tracker, a device-side position
// reporter. It runs the position estimator against simulated sensors and
// reports fixes to a Waypost API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/waypost/waypost/internal/estimator"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/middleware"
)

// apiWriter reports positions to the API server over HTTP.
type apiWriter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger

	mu   sync.Mutex
	last location.Fix
}

func newAPIWriter(baseURL, token string, logger *slog.Logger) *apiWriter {
	return &apiWriter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Upsert posts the record to /locations.
func (w *apiWriter) Upsert(ctx context.Context, rec location.PositionRecord) (*location.UpsertResult, error) {
	body, err := json.Marshal(map[string]any{
		"latitude":  rec.Latitude,
		"longitude": rec.Longitude,
		"seq":       rec.Seq,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/locations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("report position: unexpected status %d", resp.StatusCode)
	}

	var result location.UpsertResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.last = location.Fix{Latitude: rec.Latitude, Longitude: rec.Longitude, Source: location.SourceStored}
	w.mu.Unlock()
	return &result, nil
}

// GetLastKnown returns the last fix this device successfully reported. The
// device keeps its own seed; it never needs the server copy.
func (w *apiWriter) GetLastKnown(_ context.Context, _ string) location.Fix {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// simSensors simulates a device walking a random path. Satellite fixes jitter
// around the walk, and the walk occasionally loses satellite coverage.
type simSensors struct {
	mu       sync.Mutex
	lat, lon float64
	rng      *rand.Rand

	// coverage is the probability a satellite fix succeeds.
	coverage float64
}

func newSimSensors(lat, lon, coverage float64, seed int64) *simSensors {
	return &simSensors{
		lat:      lat,
		lon:      lon,
		rng:      rand.New(rand.NewSource(seed)),
		coverage: coverage,
	}
}

func (s *simSensors) SatelliteFix(_ context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() > s.coverage {
		return 0, 0, fmt.Errorf("no satellite coverage")
	}
	s.lat += (s.rng.Float64() - 0.5) * 0.0004
	s.lon += (s.rng.Float64() - 0.5) * 0.0004
	return s.lat, s.lon, nil
}

func (s *simSensors) Heading() (estimator.Heading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return estimator.Heading{
		Pitch: s.rng.Float64()*2 - 1,
		Roll:  s.rng.Float64()*2 - 1,
	}, nil
}

func (s *simSensors) StepCounts(ctx context.Context) (<-chan int, error) {
	steps := make(chan int)
	go func() {
		defer close(steps)
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				n := s.rng.Intn(4)
				s.mu.Unlock()
				if n == 0 {
					continue
				}
				select {
				case steps <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return steps, nil
}

func main() {
	help := flag.Bool("help", false, "display help message")
	server := flag.String("server", "http://localhost:8080", "Waypost API base URL")
	token := flag.String("token", "", "access token for the reporting user")
	userID := flag.String("user", "", "user ID the token belongs to")
	teamID := flag.String("team", "", "team ID the user belongs to")
	lat := flag.Float64("lat", 40.7128, "starting latitude")
	lon := flag.Float64("lon", -74.0060, "starting longitude")
	coverage := flag.Float64("coverage", 0.8, "probability a satellite fix succeeds")
	interval := flag.Duration("interval", estimator.DefaultInterval, "reporting interval")
	flag.Parse()

	if *help {
		fmt.Println("Waypost Tracker")
		fmt.Println()
		fmt.Println("Usage: tracker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	env := os.Getenv("WAYPOST_ENV")
	if env == "" {
		env = "development"
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if *token == "" || *userID == "" || *teamID == "" {
		logger.Error("token, user, and team are required")
		os.Exit(1)
	}

	writer := newAPIWriter(*server, *token, logger)
	sensors := newSimSensors(*lat, *lon, *coverage, time.Now().UnixNano())
	est := estimator.New(sensors, writer, *userID)
	tracker := estimator.NewTracker(est, writer, *userID, *teamID, logger)
	tracker.SetInterval(*interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tracker.Start(ctx); err != nil {
		logger.Error("failed to start tracker", "error", err)
		os.Exit(1)
	}
	logger.Info("tracker started", "server", *server, "user_id", *userID, "interval", interval.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("stopping tracker...")
	tracker.Stop()
	logger.Info("tracker stopped")
}
