package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"points_service/internal/config"
	"points_service/internal/db"
	"points_service/internal/migrations"
)

func main() {
	apply := flag.Bool("apply", false, "apply migrations")
	flag.Parse()

	if !*apply {
		names, err := migrations.Names()
		if err != nil {
			log.Fatalf("list migrations: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	pool, err := db.Connect(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	err = migrations.Apply(context.Background(), pool, func(name string) {
		fmt.Printf("applied %s\n", name)
	})
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
}
