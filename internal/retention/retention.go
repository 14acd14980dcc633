// Package retention garbage-collects durable room state: snapshot
// documents for rooms idle past a TTL and old auto versions in the
// history database. Without it a long-lived deployment accumulates one
// snapshot file per ever-created room id indefinitely.
package retention

import (
	"log"
	"sync"
	"time"

	"github.com/hypercode/collab/internal/db"
	"github.com/hypercode/collab/internal/snapshot"
)

type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// SnapshotTTL is how long an untouched snapshot survives. Zero
	// disables snapshot deletion entirely.
	SnapshotTTL time.Duration
	// KeepAutoVersions is how many auto versions to keep per file.
	KeepAutoVersions int
}

func DefaultConfig() Config {
	return Config{
		Interval:         time.Hour,
		SnapshotTTL:      0,
		KeepAutoVersions: 20,
	}
}

// Sweeper runs periodic retention passes in the background.
type Sweeper struct {
	store   *snapshot.Store
	history *db.History // may be nil
	config  Config
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(store *snapshot.Store, history *db.History, config Config) *Sweeper {
	return &Sweeper{
		store:   store,
		history: history,
		config:  config,
		stop:    make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("retention sweeper started (interval: %v, snapshot ttl: %v)",
		s.config.Interval, s.config.SnapshotTTL)
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("retention sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// SweepNow performs one retention pass.
func (s *Sweeper) SweepNow() {
	if s.config.SnapshotTTL > 0 {
		s.sweepSnapshots()
	}
	if s.history != nil && s.config.KeepAutoVersions > 0 {
		s.pruneHistory()
	}
}

func (s *Sweeper) sweepSnapshots() {
	stale, err := s.store.Stale(s.config.SnapshotTTL)
	if err != nil {
		log.Printf("retention: listing stale snapshots: %v", err)
		return
	}

	removed := 0
	for _, roomID := range stale {
		if err := s.store.Delete(roomID); err != nil {
			log.Printf("retention: deleting snapshot %s: %v", roomID, err)
			continue
		}
		if s.history != nil {
			if err := s.history.DeleteRoom(roomID); err != nil {
				log.Printf("retention: deleting history for %s: %v", roomID, err)
			}
		}
		removed++
	}

	if removed > 0 {
		log.Printf("retention: removed %d stale room snapshots", removed)
	}
}

func (s *Sweeper) pruneHistory() {
	rooms, err := s.history.RoomIDs()
	if err != nil {
		log.Printf("retention: listing history rooms: %v", err)
		return
	}
	for _, roomID := range rooms {
		if err := s.history.PruneAuto(roomID, s.config.KeepAutoVersions); err != nil {
			log.Printf("retention: pruning %s: %v", roomID, err)
		}
	}
}
