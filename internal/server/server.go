package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quiztaker/internal/api"
	"github.com/victornm/quiztaker/internal/attempt"
	"github.com/victornm/quiztaker/internal/event"
	"github.com/victornm/quiztaker/internal/gateway"
	"github.com/victornm/quiztaker/internal/leaderboard"
	"github.com/victornm/quiztaker/internal/quiz"
	"github.com/victornm/quiztaker/internal/score"
	"github.com/victornm/quiztaker/internal/telemetry"
)

const (
	GatewayLocal  = "local"
	GatewayRemote = "remote"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Pass, c.Addr, c.Name)
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Postgres PostgresConfig

	Auth struct {
		Secret string
	}

	CORS struct {
		AllowOrigins []string
	}

	Attempt struct {
		SubmitTimeout time.Duration
	}

	// Gateway selects where attempts are scored: by the backend services of
	// this process (local) or by a remote backend over HTTP (remote).
	Gateway struct {
		Mode    string
		BaseURL string
		Token   string
		Timeout time.Duration
	}
}

func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Leaderboard.Prefix = "local:leaderboard"
	c.Redis.Pubsub.Prefix = "local:pubsub"
	c.Attempt.SubmitTimeout = 30 * time.Second
	c.Gateway.Mode = GatewayLocal
	c.Gateway.Timeout = 10 * time.Second
	return c
}

func (c Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	switch c.Gateway.Mode {
	case GatewayLocal:
	case GatewayRemote:
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.baseURL is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown gateway.mode %q", c.Gateway.Mode)
	}

	return nil
}

type Server struct {
	c Config

	eb  *event.Bus
	reg *prometheus.Registry

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		quiz        *quiz.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		attempts    *attempt.Manager
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}

	s := &Server{c: c}

	s.eb = event.NewBus()
	s.reg = prometheus.NewRegistry()
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if s.local() {
		if err := s.initInfra(); err != nil {
			return nil, fmt.Errorf("server: init infra: %w", err)
		}
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) local() bool {
	return s.c.Gateway.Mode == GatewayLocal
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, c RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.Postgres.DSN())
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	var gw gateway.Gateway

	if s.local() {
		s.service.quiz = quiz.NewService(quiz.Config{
			DB: s.infra.postgres,
		})

		s.service.score = score.NewService(score.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres,
			Quizzes:  s.service.quiz,
		})

		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.leaderboard,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})

		gw = gateway.NewLocal(gateway.LocalConfig{
			Quiz:        s.service.quiz,
			Score:       s.service.score,
			Leaderboard: s.service.leaderboard,
		})
	} else {
		gw = gateway.NewHTTP(gateway.HTTPConfig{
			BaseURL: s.c.Gateway.BaseURL,
			Token:   s.c.Gateway.Token,
			Timeout: s.c.Gateway.Timeout,
		})
	}

	s.service.attempts = attempt.NewManager(attempt.ManagerConfig{
		Gateway:       gw,
		EventBus:      s.eb,
		SubmitTimeout: s.c.Attempt.SubmitTimeout,
	})

	telemetry.NewAttemptMetrics(s.reg, s.eb, s.service.attempts.Len)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery(), telemetry.HTTPMetrics(s.reg))
	e.Use(cors.New(s.corsConfig()))
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")

	ac := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Auth:         api.NewAuthenticator(s.c.Auth.Secret),
		Attempts:     s.service.attempts,
		AllowOrigins: s.c.CORS.AllowOrigins,
	}
	if s.local() {
		ac.Quiz = s.service.quiz
		ac.Score = s.service.score
		ac.Leaderboard = s.service.leaderboard
		ac.Redis = s.infra.redis.pubsub
		ac.PubsubPrefix = s.c.Redis.Pubsub.Prefix
	}
	api.New(ac)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) corsConfig() cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(s.c.CORS.AllowOrigins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
	} else {
		c.AllowOrigins = s.c.CORS.AllowOrigins
	}

	return c
}

// healthz reports whether the backing stores answer.
func (s *Server) healthz(c *gin.Context) {
	if !s.local() {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		if err := s.infra.postgres.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := s.infra.redis.leaderboard.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis leaderboard: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := s.infra.redis.pubsub.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis pubsub: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.WarnContext(ctx, "server: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port),
			"gateway", s.c.Gateway.Mode,
		)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Closing the attempts stops their timers; pending events still reach the bus.
	s.service.attempts.Shutdown()
	if s.local() {
		s.service.leaderboard.Stop()
	}
	s.eb.Stop()

	if s.local() {
		for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
			if err := r.Close(); err != nil {
				slog.ErrorContext(ctx, "server: close redis failed", "error", err)
			}
		}
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
