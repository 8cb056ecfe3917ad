package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"fleet-monitor/monitor/internal/config"
	"fleet-monitor/monitor/internal/geo"
	"fleet-monitor/monitor/internal/geocode"
	"fleet-monitor/monitor/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rdb.Close()
	fmt.Println("✓ Connected")

	entries := step1_geocodes(ctx, cfg, rdb)
	step2_verify(ctx, rdb, entries)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/monitor")
}

func step1_geocodes(ctx context.Context, cfg *config.Config, rdb *store.RedisStore) map[string]geo.Point {
	fmt.Println("\n── Step 1: Seeding geocodes ────────────────────")

	// Key pattern: geocode:{normalized address} → "lat,lon"
	// This is what the geocode cache looks up at Level 2
	addresses := map[string]geo.Point{
		"Durban Container Terminal, Durban":       {Lat: -29.8700, Lon: 31.0290},
		"City Deep Container Depot, Johannesburg": {Lat: -26.2257, Lon: 28.0720},
		"Bayhead Road, Durban":                    {Lat: -29.8856, Lon: 31.0134},
		"Harrismith Truck Stop":                   {Lat: -28.2720, Lon: 29.1290},
	}

	entries := make(map[string]geo.Point, len(addresses))
	for address, p := range addresses {
		entries[geocode.Key(address)] = p
	}

	if err := rdb.SeedGeocodes(ctx, entries, cfg.GeocodeCacheTTL); err != nil {
		log.Fatalf("Failed to seed geocodes: %v", err)
	}
	for key, p := range entries {
		fmt.Printf("  ✓ %-45s → %s\n", key, p)
	}
	return entries
}

func step2_verify(ctx context.Context, rdb *store.RedisStore, entries map[string]geo.Point) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	found := 0
	for key := range entries {
		if _, ok, err := rdb.GetGeocode(ctx, key); err != nil {
			log.Fatalf("Verification failed for %s: %v", key, err)
		} else if ok {
			found++
		}
	}
	fmt.Printf("  ✓ %d/%d geocodes found in Redis\n", found, len(entries))
}
