package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sunledger/internal/core/domain"
)

// fakeRepository is an in-memory states repository for the service tests.
type fakeRepository struct {
	*domain.StatesCache
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{StatesCache: domain.NewStatesCache(domain.ChannelHomeAssistant)}
}

func (r *fakeRepository) ReadStates(ctx context.Context) error  { return nil }
func (r *fakeRepository) WriteStates(ctx context.Context) error { return nil }

func (r *fakeRepository) set(id string, value string, attributes map[string]any) {
	r.UpdateReadState(domain.NewState(id, value, attributes))
}

// fakeSessionStorage records session transitions in memory.
type fakeSessionStorage struct {
	nextID  int64
	started []string
	updated []int64
	closed  []int64
}

func (s *fakeSessionStorage) StartSession(deviceID uuid.UUID, label string, solarConsumedEnergy float64, consumedEnergy float64) (domain.Session, error) {
	s.nextID++
	s.started = append(s.started, label)
	return domain.Session{
		ID:                       s.nextID,
		Start:                    time.Now().UTC(),
		StartSolarConsumedEnergy: solarConsumedEnergy,
		StartConsumedEnergy:      consumedEnergy,
	}, nil
}

func (s *fakeSessionStorage) UpdateSession(id int64, solarConsumedEnergy float64, consumedEnergy float64) error {
	s.updated = append(s.updated, id)
	return nil
}

func (s *fakeSessionStorage) UpdateSessionEnergy(id int64, solarConsumedEnergy float64, consumedEnergy float64) error {
	s.closed = append(s.closed, id)
	return nil
}

// fakeOptimizer returns a fixed power budget per device.
type fakeOptimizer struct {
	budgets map[uuid.UUID]float64
}

func (o *fakeOptimizer) GetOptimizedPower(deviceID uuid.UUID) float64 {
	if budget, ok := o.budgets[deviceID]; ok {
		return budget
	}
	return -1
}

func (o *fakeOptimizer) UpdateLoads(ctx context.Context, loads []domain.LoadInfo) error {
	return nil
}

func (o *fakeOptimizer) Optimize(ctx context.Context) error {
	return nil
}
