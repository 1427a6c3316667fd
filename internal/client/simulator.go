package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/geoshare/internal/protocol"
)

const metersPerDegree = 111_320.0

// SimulatorConfig describes a crowd of synthetic walkers.
type SimulatorConfig struct {
	URL        string
	Origin     string
	Walkers    int
	Interval   time.Duration
	Center     protocol.Location
	StepMeters float64
}

// Stats counts frames sent and received across all walkers.
type Stats struct {
	Sent        int64
	Received    int64
	Disconnects int64
	Reconnects  int64
}

// Simulator moves Walkers clients around Center, each reporting its position
// every Interval and reconnecting with exponential backoff when dropped.
type Simulator struct {
	cfg SimulatorConfig

	sent        atomic.Int64
	received    atomic.Int64
	disconnects atomic.Int64
	reconnects  atomic.Int64
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Walkers <= 0 {
		cfg.Walkers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.StepMeters <= 0 {
		cfg.StepMeters = 10
	}
	return &Simulator{cfg: cfg}
}

// Run blocks until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.cfg.Center.Validate(); err != nil {
		return fmt.Errorf("simulator centre: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(s.cfg.Walkers)
	for i := 0; i < s.cfg.Walkers; i++ {
		go func(n int) {
			defer wg.Done()
			s.walk(ctx, n)
		}(i)
	}
	wg.Wait()
	return nil
}

// Stats returns a copy of the counters.
func (s *Simulator) Stats() Stats {
	return Stats{
		Sent:        s.sent.Load(),
		Received:    s.received.Load(),
		Disconnects: s.disconnects.Load(),
		Reconnects:  s.reconnects.Load(),
	}
}

func (s *Simulator) walk(ctx context.Context, n int) {
	entry := log.WithField("walker", n)
	pos := s.cfg.Center
	first := true

	for ctx.Err() == nil {
		c, err := s.connect(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				entry.Warnf("giving up connecting: %v", err)
			}
			return
		}
		if !first {
			s.reconnects.Add(1)
		}
		first = false

		pos = s.session(ctx, c, pos)
		_ = c.Close()
		if ctx.Err() == nil {
			s.disconnects.Add(1)
			entry.Info("connection lost, reconnecting")
		}
	}
}

func (s *Simulator) connect(ctx context.Context) (*Client, error) {
	var c *Client
	operation := func() error {
		var err error
		c, err = Dial(ctx, s.cfg.URL, s.cfg.Origin)
		if err != nil {
			log.Debugf("dial failed: %v", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, defaultBackoff(ctx)); err != nil {
		return nil, err
	}
	return c, nil
}

// session reports positions on c until the connection or ctx ends and
// returns the walker's last position.
func (s *Simulator) session(ctx context.Context, c *Client, pos protocol.Location) protocol.Location {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return pos
		case _, ok := <-c.Events():
			if !ok {
				return pos
			}
			s.received.Add(1)
		case <-ticker.C:
			pos = step(pos, s.cfg.StepMeters)
			if err := c.SendLocation(pos.Latitude, pos.Longitude); err != nil {
				return pos
			}
			s.sent.Add(1)
		}
	}
}

// step moves pos by up to meters in a random direction.
func step(pos protocol.Location, meters float64) protocol.Location {
	bearing := rand.Float64() * 2 * math.Pi
	distance := rand.Float64() * meters

	dLat := distance * math.Cos(bearing) / metersPerDegree
	cosLat := math.Cos(pos.Latitude * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLon := distance * math.Sin(bearing) / (metersPerDegree * cosLat)

	lat := math.Max(-90, math.Min(90, pos.Latitude+dLat))
	lon := math.Mod(pos.Longitude+dLon+180, 360)
	if lon < 0 {
		lon += 360
	}
	lon -= 180
	return protocol.Location{Latitude: lat, Longitude: lon}
}

func defaultBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.7,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}
