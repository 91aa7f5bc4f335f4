package app

import (
	"context"
	"fmt"
	"time"

	"ipreputation/internal/blacklist"
	"ipreputation/internal/config"
	"ipreputation/internal/geo"
	"ipreputation/internal/reputation"
	"ipreputation/internal/repository"
	"ipreputation/internal/rules"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"
)

type App struct {
	Config      *config.Config
	RedisRepo   *repository.RedisRepository
	Blacklist   *blacklist.Index
	Rules       *rules.System
	MMDB        *geo.MMDBProvider
	Provider    geo.Provider
	Manager     *reputation.Manager
	RedisOpts   asynq.RedisClientOpt
	AsynqClient *asynq.Client
}

func Bootstrap(cfg *config.Config) (*App, error) {
	redisRepo := repository.NewRedisRepository(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	if err := redisRepo.GetClient().Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	idx := blacklist.New()
	if err := idx.Load(cfg.BlacklistFile); err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	if err := idx.LoadEntries(cfg.EntriesFile); err != nil {
		return nil, fmt.Errorf("failed to load blacklist entries: %w", err)
	}

	sys, err := rules.LoadFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	// The mmdb provider is always constructed so a downloaded database
	// is picked up at runtime; without one its lookups just fail over.
	mmdb := geo.NewMMDBProvider(cfg.GeoIPDir)
	var provider geo.Provider
	if cfg.GeoOffline {
		provider = mmdb
		zlog.Info().Msg("App: geo lookups restricted to local databases")
	} else {
		whois := geo.NewIPWhoisClient(cfg.GeoAPIURL, time.Duration(cfg.GeoTimeoutSeconds)*time.Second)
		provider = geo.NewChain(whois, mmdb)
	}

	manager := reputation.NewManager(cfg, idx, provider, redisRepo, sys)

	redisOpts := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &App{
		Config:      cfg,
		RedisRepo:   redisRepo,
		Blacklist:   idx,
		Rules:       sys,
		MMDB:        mmdb,
		Provider:    provider,
		Manager:     manager,
		RedisOpts:   redisOpts,
		AsynqClient: asynq.NewClient(redisOpts),
	}, nil
}

func (a *App) Close() {
	if a.AsynqClient != nil {
		_ = a.AsynqClient.Close()
	}
	if a.MMDB != nil {
		a.MMDB.Close()
	}
}
