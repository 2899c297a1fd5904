package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"telegram-channel-access/internal/config"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/infra/api"
	pg "telegram-channel-access/internal/infra/db/postgres"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/usecase"
)

// issue-codes prints freshly issued access codes, or an operator API token with -token.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	planName := flag.String("plan", "monthly", "plan to issue codes for: daily, monthly or yearly")
	n := flag.Int("n", 1, "number of codes to issue")
	token := flag.Bool("token", false, "mint an operator API token instead of issuing codes")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the minted operator token")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *token {
		tok, err := api.NewAuthenticator(cfg.Admin.JWTSecret).Mint("cli", *tokenTTL)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	plan, err := model.ParsePlan(*planName)
	if err != nil {
		log.Fatalf("plan %q: %v", *planName, err)
	}
	if *n < 1 {
		log.Fatalf("-n must be at least 1")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)
	codeUC := usecase.NewCodeUseCase(pg.NewAccessCodeRepo(pool), pg.NewGrantRepo(pool), pg.NewTxManager(pool), logger)

	for i := 0; i < *n; i++ {
		ac, err := codeUC.IssueCode(ctx, plan)
		if err != nil {
			log.Fatalf("issue code %d/%d: %v", i+1, *n, err)
		}
		fmt.Printf("%s\t%s\n", ac.Code, ac.Plan)
	}
}
