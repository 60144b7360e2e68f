package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hosteltrack/internal/automark"
	"hosteltrack/internal/config"
	"hosteltrack/internal/leave"
	"hosteltrack/internal/person"
	"hosteltrack/internal/presence"
	"hosteltrack/internal/queue"
	"hosteltrack/internal/settings"
	"hosteltrack/internal/store"
)

// Worker runs auto-mark sweeps: on-demand triggers from the queue plus a
// daily tick at the configured sweep time.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "hostel:sweeps")
	}

	events := presence.NewRepository(db.Client)
	persons := person.NewStore(db.Client)
	leaves := leave.NewRepository(db.Client)
	settingsStore := settings.NewStore(db.Client, redisClient.Client, cfg.SettingsCacheTTL)
	lock := automark.NewRunLock(redisClient.Client, cfg.SweepLockTTL)
	scheduler := automark.NewScheduler(persons, events, leaves, settingsStore, lock)

	triggers, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	var lastTickDate string

	log.Println("worker started, waiting for sweep triggers...")
	for {
		select {
		case <-ctx.Done():
			log.Println("worker stopped")
			return

		case trig, ok := <-triggers:
			if !ok {
				log.Println("worker stopped")
				return
			}
			runTrigger(ctx, scheduler, trig)

		case now := <-ticker.C:
			date := now.Format(presence.DateLayout)
			if date == lastTickDate {
				continue
			}
			cfgDoc, err := settingsStore.Load(ctx)
			if err != nil {
				log.Printf("settings load failed: %v", err)
				continue
			}
			if !cfgDoc.AutoMarkEnabled || now.Format("15:04") < cfgDoc.AutoMarkTime {
				continue
			}
			lastTickDate = date
			runTrigger(ctx, scheduler, queue.SweepTrigger{Date: date})
		}
	}
}

// runTrigger executes one sweep trigger. Per-date locking lives inside the
// scheduler, so range and single-date triggers contend on the same keys.
func runTrigger(ctx context.Context, scheduler *automark.Scheduler, trig queue.SweepTrigger) {
	var (
		sum automark.Summary
		err error
	)
	if trig.Date != "" {
		sum, err = scheduler.Run(ctx, trig.Date)
	} else {
		sum, err = scheduler.RunRange(ctx, trig.FromDate, trig.ToDate)
	}
	if errors.Is(err, automark.ErrSweepInProgress) {
		log.Printf("sweep for %s already running elsewhere, skipping", trig.Date)
		return
	}
	if err != nil {
		log.Printf("sweep failed: %v", err)
		return
	}
	log.Printf("sweep done: present=%d absent=%d leave=%d already=%d",
		sum.Present, sum.Absent, sum.Leave, sum.AlreadyMarked)
}
