package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/api/rest"
	"github.com/fortuna/flowscrape/internal/api/websocket"
	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/cache"
	"github.com/fortuna/flowscrape/internal/config"
	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/extract"
	"github.com/fortuna/flowscrape/internal/progress"
	"github.com/fortuna/flowscrape/internal/publisher"
	"github.com/fortuna/flowscrape/internal/reconciliation"
	"github.com/fortuna/flowscrape/internal/runstate"
	"github.com/fortuna/flowscrape/internal/store"
	"github.com/fortuna/flowscrape/internal/store/repository"
)

const topEvents = 10

// session holds everything one run needs, and what must be closed after it.
type session struct {
	cfg     config.Config
	logger  *zap.Logger
	events  []eventsource.Event
	state   *runstate.Store
	tracker *progress.Tracker
	budget  *crawl.Budget
	cache   *cache.RedisCache

	reporters crawl.MultiReporter
	closers   []func()
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newSession loads the event list and the saved state, and connects the
// optional Redis and PostgreSQL sinks. A sink that cannot connect is skipped.
func newSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*session, error) {
	path := cfg.EventsFile
	if path == "" {
		latest, err := eventsource.Latest(cfg.OutDir)
		if err != nil {
			return nil, fmt.Errorf("no event list: set EVENTS_FILE or --events: %w", err)
		}
		path = latest
	}
	events, err := eventsource.Load(path, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	events = eventsource.Limit(events, cfg.LimitEvents)
	logger.Info("✓ Loaded event list", zap.String("path", path), zap.Int("events", len(events)))

	state, err := runstate.Load(cfg.StoreOptions(logger))
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		events:  events,
		state:   state,
		tracker: progress.NewTracker(),
		budget:  crawl.NewBudget(cfg.MaxRuntime),
	}
	s.reporters = crawl.MultiReporter{crawl.LogReporter{Logger: logger}, s.tracker}

	if cfg.RedisURL != "" {
		s.connectRedis()
	}
	if cfg.DatabaseDSN != "" {
		s.connectDatabase(ctx)
	}
	return s, nil
}

func (s *session) connectRedis() {
	rc, err := cache.NewRedisCache(s.cfg.RedisURL)
	if err != nil {
		s.logger.Warn("⚠️  Redis cache unavailable, continuing without it", zap.Error(err))
	} else {
		s.cache = rc
		s.closers = append(s.closers, func() { rc.Close() })
		s.reporters = append(s.reporters, cache.NewReporter(rc, s.logger))
		s.logger.Info("✓ Connected to Redis cache")
	}

	pub, err := publisher.NewRedisPublisher(s.cfg.RedisURL)
	if err != nil {
		s.logger.Warn("⚠️  Redis publisher unavailable, continuing without it", zap.Error(err))
		return
	}
	s.closers = append(s.closers, func() { pub.Close() })
	s.reporters = append(s.reporters, publisher.NewReporter(pub, s.logger))
	s.logger.Info("✓ Redis publisher initialized")
}

func (s *session) connectDatabase(ctx context.Context) {
	db, err := store.NewDatabase(s.cfg.DatabaseDSN, s.logger)
	if err != nil {
		s.logger.Warn("⚠️  Database unavailable, continuing without it", zap.Error(err))
		return
	}
	if err := db.RunMigrations(ctx); err != nil {
		s.logger.Warn("⚠️  Database migrations failed, continuing without it", zap.Error(err))
		db.Close()
		return
	}
	s.closers = append(s.closers, func() { db.Close() })
	s.reporters = append(s.reporters, repository.NewReporter(
		repository.NewEventRepository(db),
		repository.NewParticipantRepository(db),
		s.logger,
	))
	s.logger.Info("✓ Database mirror enabled")
}

// servers starts the REST and WebSocket APIs and returns their shutdown.
func (s *session) servers() func(context.Context) {
	ws := websocket.NewServer(s.tracker, s.logger)
	s.reporters = append(s.reporters, ws)

	deps := rest.Deps{State: s.state, Progress: s.tracker, Stopper: s.budget}
	if s.cache != nil {
		deps.Cache = s.cache
	}
	api := rest.NewServer(s.cfg.RESTPort, deps, s.logger)

	go func() {
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server error", zap.Error(err))
		}
	}()
	go func() {
		if err := ws.Start(s.cfg.WSPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", zap.Error(err))
		}
	}()
	s.logger.Info("✓ APIs listening",
		zap.String("rest", "http://0.0.0.0:"+s.cfg.RESTPort),
		zap.String("websocket", "ws://0.0.0.0:"+s.cfg.WSPort+"/ws/progress"),
	)

	return func(ctx context.Context) {
		if err := api.Shutdown(ctx); err != nil {
			s.logger.Warn("REST API server shutdown error", zap.Error(err))
		}
		if err := ws.Shutdown(ctx); err != nil {
			s.logger.Warn("WebSocket server shutdown error", zap.Error(err))
		}
	}
}

// crawl opens the browser and processes the event list.
func (s *session) crawl(ctx context.Context) (crawl.Summary, error) {
	client, err := browser.New(s.cfg.BrowserOptions(s.logger))
	if err != nil {
		return crawl.Summary{}, err
	}
	defer client.Close()

	var auth crawl.Authenticator
	if s.cfg.HasCredentials() {
		if err := client.Login(ctx); err != nil {
			return crawl.Summary{}, fmt.Errorf("initial login failed: %w", err)
		}
		auth = client
	} else {
		s.logger.Warn("⚠️  No credentials configured, an expired session will end the run")
	}

	extractor := extract.NewExtractor(reconciliation.NewEngine(s.logger), s.logger)
	crawler := crawl.New(client, auth, s.state, extractor, s.budget, s.reporters, s.cfg.CrawlOptions(), s.logger)
	return crawler.Run(ctx, s.events)
}

// summarize logs the output files and the largest events.
func (s *session) summarize(summary crawl.Summary) {
	events, participants := s.state.Totals()
	s.logger.Info("✓ Output written",
		zap.String("dated", s.state.DatedPath()),
		zap.String("latest", s.state.LatestPath()),
		zap.Int("events", events),
		zap.Int("participants", participants),
		zap.Int("new_participants", summary.NewParticipants),
	)

	snaps := s.state.Summaries()
	runstate.SortByCount(snaps)
	if len(snaps) > topEvents {
		snaps = snaps[:topEvents]
	}
	for i, snap := range snaps {
		s.logger.Info(fmt.Sprintf("  %2d. %s", i+1, snap.Info.EventName),
			zap.Int("participants", snap.Count),
			zap.String("status", snap.Info.Status),
		)
	}
}

// watchSignals turns the first SIGINT/SIGTERM into an orderly stop and the
// second into cancellation. The returned channel closes on the first one.
func watchSignals(budget *crawl.Budget, cancel context.CancelFunc, logger *zap.Logger) (<-chan struct{}, func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopping := make(chan struct{})
	done := make(chan struct{})
	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case <-sigChan:
				count++
				if count == 1 {
					logger.Warn("⚠️  Stop requested, finishing current participant (signal again to abort)")
					budget.Stop()
					close(stopping)
					continue
				}
				logger.Warn("⚠️  Aborting")
				cancel()
				return
			}
		}
	}()
	return stopping, func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func shutdownTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
