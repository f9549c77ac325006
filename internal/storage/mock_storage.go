package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calloway-trading/strikestream/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
type MockStorage struct {
	mu       sync.RWMutex
	legs     map[string]models.OrderLeg
	strikes  map[string]models.StrikeCandidate
	months   map[string]string
	timers   map[string]models.TimerState
	failWith error
}

// Compile-time check.
var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		legs:    make(map[string]models.OrderLeg),
		strikes: make(map[string]models.StrikeCandidate),
		months:  make(map[string]string),
		timers:  make(map[string]models.TimerState),
	}
}

// FailWith makes every subsequent call return err. Pass nil to clear.
func (m *MockStorage) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockStorage) err() error {
	return m.failWith
}

func (m *MockStorage) CreateOrderLeg(_ context.Context, leg *models.OrderLeg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if leg.CreatedAt.IsZero() {
		leg.CreatedAt = time.Now().UTC()
	}
	for _, existing := range m.legs {
		if existing.ClientOrderID == leg.ClientOrderID {
			return fmt.Errorf("duplicate client order id %s", leg.ClientOrderID)
		}
	}
	m.legs[leg.ID] = *leg
	return nil
}

func (m *MockStorage) UpdateOrderLeg(_ context.Context, leg *models.OrderLeg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if _, ok := m.legs[leg.ID]; !ok {
		return ErrNotFound
	}
	m.legs[leg.ID] = *leg
	return nil
}

func (m *MockStorage) GetOrderLeg(_ context.Context, id string) (*models.OrderLeg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	leg, ok := m.legs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &leg, nil
}

func (m *MockStorage) ListOpenOrderLegs(_ context.Context, userID string) ([]models.OrderLeg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []models.OrderLeg
	for _, leg := range m.legs {
		if leg.UserID == userID && !leg.Status.IsTerminal() {
			out = append(out, leg)
		}
	}
	sortLegs(out)
	return out, nil
}

func (m *MockStorage) ListOrderLegsByDate(_ context.Context, userID string, day time.Time) ([]models.OrderLeg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	y, mo, d := day.UTC().Date()
	var out []models.OrderLeg
	for _, leg := range m.legs {
		ly, lm, ld := leg.CreatedAt.UTC().Date()
		if leg.UserID == userID && ly == y && lm == mo && ld == d {
			out = append(out, leg)
		}
	}
	sortLegs(out)
	return out, nil
}

func sortLegs(legs []models.OrderLeg) {
	sort.Slice(legs, func(i, j int) bool {
		return legs[i].CreatedAt.Before(legs[j].CreatedAt)
	})
}

func (m *MockStorage) HighestClientOrderSeq(_ context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	highest := 0
	for _, leg := range m.legs {
		if !strings.HasPrefix(leg.ClientOrderID, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(leg.ClientOrderID, prefix))
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func strikeKey(c *models.StrikeCandidate) string {
	return fmt.Sprintf("%s|%.4f|%s|%s|%s", c.ContractID, c.StrikePrice,
		c.Right, c.Month, c.CreatedAt.UTC().Format("2006-01-02"))
}

func (m *MockStorage) UpsertStrike(_ context.Context, candidate *models.StrikeCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}
	m.strikes[strikeKey(candidate)] = *candidate
	return nil
}

func (m *MockStorage) ListStrikesByDate(_ context.Context, contractID string, day time.Time) ([]models.StrikeCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	y, mo, d := day.UTC().Date()
	var out []models.StrikeCandidate
	for _, c := range m.strikes {
		cy, cm, cd := c.CreatedAt.UTC().Date()
		if c.ContractID == contractID && cy == y && cm == mo && cd == d {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrikePrice < out[j].StrikePrice })
	return out, nil
}

func trackedKey(userID, contractID string, day time.Time) string {
	return userID + "|" + contractID + "|" + day.UTC().Format("2006-01-02")
}

func (m *MockStorage) SaveTrackedContract(_ context.Context, userID, contractID, month string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.months[trackedKey(userID, contractID, time.Now())] = month
	return nil
}

func (m *MockStorage) GetTrackedContractMonth(_ context.Context, userID, contractID string, day time.Time) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return "", err
	}
	month, ok := m.months[trackedKey(userID, contractID, day)]
	if !ok {
		return "", ErrNotFound
	}
	return month, nil
}

func timerKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format("2006-01-02")
}

func (m *MockStorage) CreateTimer(_ context.Context, timer *models.TimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}
	key := timerKey(timer.UserID, timer.CreatedAt)
	if _, ok := m.timers[key]; ok {
		return nil
	}
	m.timers[key] = *timer
	return nil
}

func (m *MockStorage) GetTimer(_ context.Context, userID string, day time.Time) (*models.TimerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	t, ok := m.timers[timerKey(userID, day)]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MockStorage) DecrementTimers(_ context.Context, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	suffix := "|" + day.UTC().Format("2006-01-02")
	for key, t := range m.timers {
		if strings.HasSuffix(key, suffix) && t.RemainingTicks > 0 {
			t.RemainingTicks--
			m.timers[key] = t
		}
	}
	return nil
}

func (m *MockStorage) Close() error { return nil }
