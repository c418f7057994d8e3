package main

import (
	"fmt"
	"os"

	"points_service/internal/config"
	"points_service/internal/db"
	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/repository"
	"points_service/internal/service"

	"github.com/urfave/cli/v2"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "user", Usage: "roll up a single user (default: every user with events in the bucket)"},
		&cli.StringFlag{Name: "bucket", Usage: "bucket key (hour 2006-01-02T15, day 2006-01-02); default: last complete bucket"},
	}
	app := &cli.App{
		Name:  "rollup",
		Usage: "recompute metrics rows from the points ledger",
		Commands: []*cli.Command{
			{
				Name:  "hour",
				Usage: "roll up one UTC hour",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return rollup(c, domain.ScopeHour)
				},
			},
			{
				Name:  "day",
				Usage: "roll up one UTC day",
				Flags: flags,
				Action: func(c *cli.Context) error {
					return rollup(c, domain.ScopeDay)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal("rollup failed", "error", err)
	}
}

func rollup(c *cli.Context, scope domain.Scope) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("rollup CLI needs STORE=%s", config.StorePostgres)
	}

	pool, err := db.Connect(c.Context, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledger := repository.NewPointEventRepository(pool)
	agg := service.NewRollupAggregator(ledger, repository.NewMetricsRepository(pool), cfg.RollupConcurrency)

	report, err := agg.Run(c.Context, service.Trigger{
		Scope:     scope,
		UserID:    c.String("user"),
		BucketKey: c.String("bucket"),
	})
	fmt.Printf("scope=%s bucket=%s users=%d failed=%d\n", report.Scope, report.Bucket, report.Users, report.Failed)
	return err
}
