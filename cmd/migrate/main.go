package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"webcamd/internal/config"
	"webcamd/internal/logger"
	"webcamd/internal/repository/sqlite"
	"webcamd/internal/services/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Printf("Indexing history from %s into database %s\n", cfg.Paths.HistoryDir, cfg.Paths.StateDB)

	db, err := sqlite.New(cfg.Paths.StateDB)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	index := sqlite.NewFrameRepository(db)
	history := storage.NewHistoryStore(cfg.Paths.HistoryDir, nil, logger.Nop().Logger)

	cameras, err := history.Cameras()
	if err != nil {
		log.Fatalf("Failed to read history directory: %v", err)
	}

	total := 0
	for _, id := range cameras {
		frames, err := history.Frames(id)
		if err != nil {
			log.Printf("Skipping %s: %v", id, err)
			continue
		}
		if err := index.DeleteCamera(id); err != nil {
			log.Fatalf("Failed to clear index for %s: %v", id, err)
		}
		if err := index.BulkInsert(id, frames); err != nil {
			log.Fatalf("Failed to insert frames for %s: %v", id, err)
		}
		total += len(frames)
	}

	stats, err := index.Stats()
	if err != nil {
		log.Fatalf("Failed to get stats: %v", err)
	}

	fmt.Printf("Indexed %d frames from %d cameras\n", total, len(cameras))
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s: %d\n", id, stats[id])
	}
}
