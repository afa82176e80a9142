package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"referral-bot/internal/bot"
	"referral-bot/internal/cache"
	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/leaderboard"
	"referral-bot/internal/policy"
	"referral-bot/internal/referral"
	"referral-bot/internal/reward"
	"referral-bot/internal/store"
	"referral-bot/internal/verification"
	"referral-bot/internal/wallet"
	"referral-bot/internal/worker"
)

const challengeTTL = 10 * time.Minute

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("could not connect to redis", zap.Error(err))
	}

	st := store.New(db)
	userCache := cache.New(st, cfg.CacheTTL, cfg.CacheMaxSize)
	challenges := verification.NewStore(verification.NewRedisKV(rdb), challengeTTL)
	pol := policy.New()

	engine := referral.NewEngine(userCache, st, challenges, pol,
		cfg.DefaultLanguage, cfg.VerificationEnabled, logger)
	graph := referral.NewGraph(st)
	gate := reward.NewGate(userCache, st, graph, pol, wallet.NewSolana(cfg.SolanaRPCURL), logger)
	ledger := reward.NewLedger(st, userCache)
	board := leaderboard.New(st)

	tgBot, err := bot.NewBot(cfg, engine, gate, ledger, board, userCache, st, pol, logger)
	if err != nil {
		logger.Fatal("could not create bot", zap.Error(err))
	}

	ctx := context.Background()

	announcer := worker.NewAnnouncer(board, userCache, rdb, tgBot.Instance, cfg.GroupID, logger)
	go announcer.Start(ctx)

	logger.Info("service started")
	if err := tgBot.Start(ctx); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}
