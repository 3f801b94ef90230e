package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/storage"
	"checkin/internal/store"
)

// Maintenance CLI for the photo bucket: migrates object keys that predate
// the current path scheme, and sweeps blobs no record references (the
// leftovers of partial failures during check-in and deletion).
func main() {
	migrate := flag.Bool("migrate", false, "move legacy object keys to the current path scheme")
	sweep := flag.Bool("sweep", false, "remove blobs with no referencing check-in row")
	dryRun := flag.Bool("dry-run", false, "report what would change without touching anything")
	flag.Parse()

	if !*migrate && !*sweep {
		log.Fatal("nothing to do: pass -migrate and/or -sweep")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.ServiceKey == "" {
		log.Fatal("SUPABASE_SERVICE_KEY is required for maintenance (moves and removals)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	blobs := storage.New(cfg.SupabaseURL, cfg.ServiceKey, cfg.Bucket)
	repo := checkin.NewRepository(db.Client)
	loc := cfg.Location()

	if *migrate {
		if err := migrateLegacyKeys(ctx, repo, blobs, loc, *dryRun); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	}
	if *sweep {
		if err := sweepOrphans(ctx, repo, blobs, *dryRun); err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
	}
}

// migrateLegacyKeys moves every object whose key predates the current
// scheme to the key its record would get today, then repoints the row.
// The row update follows the move, so an interrupted run leaves the record
// still pointing at the old key and the pass can be repeated.
func migrateLegacyKeys(ctx context.Context, repo *checkin.Repository, blobs *storage.Client, loc *time.Location, dryRun bool) error {
	records, err := repo.AllCheckins(ctx)
	if err != nil {
		return err
	}

	moved := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if checkin.IsObjectPath(rec.PhotoPath) {
			continue
		}
		newPath := checkin.ObjectPath(rec.UserID, rec.CreatedAt.In(loc))
		if dryRun {
			log.Printf("would move %s -> %s", rec.PhotoPath, newPath)
			moved++
			continue
		}
		if err := blobs.Move(ctx, rec.PhotoPath, newPath); err != nil {
			log.Printf("move %s failed: %v, skipping", rec.PhotoPath, err)
			continue
		}
		if err := repo.UpdatePhotoPath(ctx, rec.ID, newPath); err != nil {
			log.Printf("repoint record %s failed: %v (object already at %s)", rec.ID, err, newPath)
			continue
		}
		moved++
	}
	log.Printf("migration done: %d of %d records", moved, len(records))
	return nil
}

// sweepOrphans removes every object no check-in row references.
func sweepOrphans(ctx context.Context, repo *checkin.Repository, blobs *storage.Client, dryRun bool) error {
	referenced, err := repo.PhotoPaths(ctx)
	if err != nil {
		return err
	}

	keys, err := walkBucket(ctx, blobs, "")
	if err != nil {
		return err
	}

	var orphans []string
	for _, key := range keys {
		if !referenced[key] {
			orphans = append(orphans, key)
		}
	}
	if len(orphans) == 0 {
		log.Println("no orphaned blobs")
		return nil
	}
	if dryRun {
		for _, key := range orphans {
			log.Printf("would remove %s", key)
		}
		log.Printf("sweep (dry run): %d orphans of %d objects", len(orphans), len(keys))
		return nil
	}
	if err := blobs.Remove(ctx, orphans); err != nil {
		return err
	}
	log.Printf("sweep done: removed %d orphans of %d objects", len(orphans), len(keys))
	return nil
}

// walkBucket lists every object key under prefix. The storage API lists one
// folder level at a time and marks folders by an empty object id.
func walkBucket(ctx context.Context, blobs *storage.Client, prefix string) ([]string, error) {
	objects, err := blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, obj := range objects {
		key := obj.Name
		if prefix != "" {
			key = prefix + "/" + obj.Name
		}
		if obj.ID == "" {
			nested, err := walkBucket(ctx, blobs, key)
			if err != nil {
				return nil, err
			}
			keys = append(keys, nested...)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
