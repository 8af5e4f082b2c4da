package compaction

import (
	"log/slog"
	"sync"
	"time"

	"github.com/easel-labs/easel/backend/internal/db"
)

type Config struct {
	Interval          time.Duration
	UpdateThreshold   int
	KeepRecentUpdates int
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		UpdateThreshold:   100,
		KeepRecentUpdates: 10,
	}
}

// Service periodically folds a room's persisted sync-update log into a
// single snapshot so the log stays bounded.
type Service struct {
	database *db.Database
	config   Config
	log      *slog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, logger *slog.Logger, config Config) *Service {
	return &Service{
		database: database,
		config:   config,
		log:      logger,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("compaction service started",
		"interval", s.config.Interval, "threshold", s.config.UpdateThreshold)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info("compaction service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.compactAllRooms()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.compactAllRooms()
		}
	}
}

func (s *Service) compactAllRooms() {
	rooms, err := s.database.ListRooms(1000, 0)
	if err != nil {
		s.log.Warn("compaction: failed to list rooms", "err", err)
		return
	}

	compacted := 0
	for _, room := range rooms {
		if s.shouldCompact(room.Code) {
			if err := s.compactRoom(room.Code); err != nil {
				s.log.Warn("compaction failed", "room", room.Code, "err", err)
			} else {
				compacted++
			}
		}
	}

	if compacted > 0 {
		s.log.Info("compacted rooms", "count", compacted)
	}
}

func (s *Service) shouldCompact(roomCode string) bool {
	count, err := s.database.GetUpdateCount(roomCode)
	if err != nil {
		return false
	}
	return count >= s.config.UpdateThreshold
}

// MergeUpdates concatenates updates with a length prefix so they can be
// split back apart on load.
func MergeUpdates(updates [][]byte) []byte {
	totalSize := 0
	for _, update := range updates {
		totalSize += len(update)
	}

	merged := make([]byte, 0, totalSize+len(updates)*4)

	for _, update := range updates {
		length := uint32(len(update))
		merged = append(merged, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
		merged = append(merged, update...)
	}

	return merged
}

// SplitMergedUpdates reverses MergeUpdates.
func SplitMergedUpdates(merged []byte) [][]byte {
	var updates [][]byte
	offset := 0

	for offset < len(merged) {
		if offset+4 > len(merged) {
			break
		}

		length := uint32(merged[offset])<<24 |
			uint32(merged[offset+1])<<16 |
			uint32(merged[offset+2])<<8 |
			uint32(merged[offset+3])
		offset += 4

		if offset+int(length) > len(merged) {
			break
		}

		update := make([]byte, length)
		copy(update, merged[offset:offset+int(length)])
		updates = append(updates, update)
		offset += int(length)
	}

	return updates
}

func (s *Service) compactRoom(roomCode string) error {
	updates, err := s.database.GetAllUpdates(roomCode)
	if err != nil {
		return err
	}

	if len(updates) < s.config.UpdateThreshold {
		return nil
	}

	merged := MergeUpdates(updates)

	if err := s.database.SaveSnapshot(roomCode, merged, len(updates)); err != nil {
		return err
	}

	if err := s.database.DeleteUpdatesBeforeSnapshot(roomCode, s.config.KeepRecentUpdates); err != nil {
		return err
	}

	s.log.Info("compacted room",
		"room", roomCode, "updates", len(updates), "kept", s.config.KeepRecentUpdates)

	return nil
}

func (s *Service) CompactNow(roomCode string) error {
	return s.compactRoom(roomCode)
}
