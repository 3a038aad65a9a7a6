package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/core/domain"
)

const sessionFile = "sessions.json"

// SessionLogEntry is one recorded device on-phase.
type SessionLogEntry struct {
	ID                       int64     `json:"id"`
	DeviceID                 uuid.UUID `json:"device_id"`
	Label                    string    `json:"label"`
	Start                    time.Time `json:"start"`
	End                      time.Time `json:"end"`
	StartSolarConsumedEnergy float64   `json:"start_solar_consumed_energy"`
	StartConsumedEnergy      float64   `json:"start_consumed_energy"`
	EndSolarConsumedEnergy   float64   `json:"end_solar_consumed_energy"`
	EndConsumedEnergy        float64   `json:"end_consumed_energy"`
}

type sessionLogFile struct {
	NextID  int64             `json:"next_id"`
	Entries []SessionLogEntry `json:"entries"`
}

// SessionStore is a file backed session log. The whole log is held in
// memory and rewritten on every mutation.
type SessionStore struct {
	mu     sync.Mutex
	path   string
	log    sessionLogFile
	logger *zap.Logger
	now    func() time.Time
}

func NewSessionStore(dataFolder string, logger *zap.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(dataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}
	store := &SessionStore{
		path:   filepath.Join(dataFolder, sessionFile),
		log:    sessionLogFile{NextID: 1},
		logger: logger.With(zap.String("adapter", "storage")),
		now:    time.Now,
	}
	data, err := os.ReadFile(store.path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read session log: %w", err)
	}
	if err := json.Unmarshal(data, &store.log); err != nil {
		return nil, fmt.Errorf("decode session log: %w", err)
	}
	if store.log.NextID < 1 {
		store.log.NextID = 1
	}
	return store, nil
}

func (s *SessionStore) StartSession(deviceID uuid.UUID, label string, solarConsumedEnergy float64, consumedEnergy float64) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	entry := SessionLogEntry{
		ID:                       s.log.NextID,
		DeviceID:                 deviceID,
		Label:                    label,
		Start:                    now,
		End:                      now,
		StartSolarConsumedEnergy: solarConsumedEnergy,
		StartConsumedEnergy:      consumedEnergy,
		EndSolarConsumedEnergy:   solarConsumedEnergy,
		EndConsumedEnergy:        consumedEnergy,
	}
	s.log.NextID++
	s.log.Entries = append(s.log.Entries, entry)
	if err := s.persist(); err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:                       entry.ID,
		Start:                    entry.Start,
		StartSolarConsumedEnergy: solarConsumedEnergy,
		StartConsumedEnergy:      consumedEnergy,
	}, nil
}

// UpdateSession moves the session end to now and records the energies read
// at that point.
func (s *SessionStore) UpdateSession(id int64, solarConsumedEnergy float64, consumedEnergy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.find(id)
	if entry == nil {
		return nil
	}
	entry.End = s.now().UTC()
	entry.EndSolarConsumedEnergy = solarConsumedEnergy
	entry.EndConsumedEnergy = consumedEnergy
	return s.persist()
}

// UpdateSessionEnergy corrects the closing energies without touching the
// session end time.
func (s *SessionStore) UpdateSessionEnergy(id int64, solarConsumedEnergy float64, consumedEnergy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.find(id)
	if entry == nil {
		return nil
	}
	entry.EndSolarConsumedEnergy = solarConsumedEnergy
	entry.EndConsumedEnergy = consumedEnergy
	return s.persist()
}

// SessionsForDevice returns the recorded sessions of one device, newest
// first.
func (s *SessionStore) SessionsForDevice(deviceID uuid.UUID) []SessionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []SessionLogEntry
	for i := len(s.log.Entries) - 1; i >= 0; i-- {
		if s.log.Entries[i].DeviceID == deviceID {
			result = append(result, s.log.Entries[i])
		}
	}
	return result
}

func (s *SessionStore) find(id int64) *SessionLogEntry {
	for i := range s.log.Entries {
		if s.log.Entries[i].ID == id {
			return &s.log.Entries[i]
		}
	}
	s.logger.Warn("unknown session", zap.Int64("id", id))
	return nil
}

func (s *SessionStore) persist() error {
	data, err := json.MarshalIndent(s.log, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session log: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
