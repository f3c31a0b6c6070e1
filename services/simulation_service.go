package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"fms-api/models"
	"fms-api/stores"
)

// EventUpdateSimulation is the event name every snapshot is broadcast under.
const EventUpdateSimulation = "updateSimulation"

// SimulationPayload wraps a snapshot the way clients receive it, both in
// HTTP responses and in live updates.
type SimulationPayload struct {
	Simulation *models.Simulation `json:"simulation"`
}

// SimulationStore persists the single current simulation.
type SimulationStore interface {
	// FindCurrent returns nil without error when nothing is stored.
	FindCurrent(ctx context.Context) (*models.Simulation, error)
	DeleteAll(ctx context.Context) error
	Create(ctx context.Context, sim *models.Simulation) (*models.Simulation, error)
	// Update returns the post-update snapshot, or stores.ErrNotFound.
	Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error)
}

// Broadcaster delivers an event to every connected viewer. Delivery is best
// effort and never reports back.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// SchedulerConfig holds the timing of a simulation run.
type SchedulerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	TickBudget      int           `yaml:"tick_budget"`
	RestartCooldown time.Duration `yaml:"restart_cooldown"`
}

// DefaultSchedulerConfig ticks once a second, scores nine goals and allows a
// restart five seconds after the previous start.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:    time.Second,
		TickBudget:      9,
		RestartCooldown: 5 * time.Second,
	}
}

// SimulationService owns the lifecycle of the single active simulation.
type SimulationService struct {
	Store       SimulationStore
	Broadcaster Broadcaster
	Timers      *TimerRegistry
	Matches     *MatchGenerator
	Clock       clockwork.Clock
	Config      SchedulerConfig

	// mu serialises lifecycle transitions and ticks.
	mu     sync.Mutex
	active *simulationRun
}

// simulationRun is the bookkeeping of the armed run. Guarded by mu.
type simulationRun struct {
	name   string
	handle *TimerHandle
	ticks  int
}

func NewSimulationService(store SimulationStore, broadcaster Broadcaster, timers *TimerRegistry, cfg SchedulerConfig) *SimulationService {
	return &SimulationService{
		Store:       store,
		Broadcaster: broadcaster,
		Timers:      timers,
		Matches:     NewMatchGenerator(nil),
		Clock:       timers.Clock(),
		Config:      cfg,
	}
}

// GetCurrent returns the stored simulation, or nil when none exists. It does
// not wait for an in-flight tick.
func (s *SimulationService) GetCurrent(ctx context.Context) (*models.Simulation, error) {
	sim, err := s.Store.FindCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current simulation: %w", err)
	}
	return sim, nil
}

// CreateOrStart creates the first simulation or, once the cooldown of the
// stored one has elapsed, replaces it with a fresh run named name. The
// cooldown is measured from the most recent start time whatever the stored
// state is, so a running simulation can be replaced mid-run. A record left in
// the ready state never started and is replaced without waiting.
func (s *SimulationService) CreateOrStart(ctx context.Context, name string) (*models.Simulation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Store.FindCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current simulation: %w", err)
	}

	if current != nil {
		if err := s.checkCooldown(current); err != nil {
			logrus.Warnf("[Scheduler] Rejected start of %q: %v", name, err)
			return nil, err
		}
		logrus.Infof("[Scheduler] Replacing simulation %q with %q", current.Name, name)
	}

	return s.createAndStart(ctx, name)
}

// EndSimulation stops the timer of name, marks it finished and broadcasts the
// final snapshot. It is safe to call repeatedly and from the timer itself.
func (s *SimulationService) EndSimulation(ctx context.Context, name string) (*models.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(ctx, strings.TrimSpace(name))
}

func (s *SimulationService) checkCooldown(current *models.Simulation) error {
	if current.State == models.SimulationStateReady {
		return nil
	}
	elapsed := s.Clock.Since(current.StartTime)
	if elapsed > s.Config.RestartCooldown {
		return nil
	}
	return &RestartTooSoonError{
		Cooldown:  s.Config.RestartCooldown,
		Remaining: s.Config.RestartCooldown - elapsed,
	}
}

func (s *SimulationService) createAndStart(ctx context.Context, name string) (*models.Simulation, error) {
	// Old ticks must not touch the replacement record.
	if n := s.Timers.CancelAll(); n > 0 {
		logrus.Infof("[Scheduler] Cancelled %d running timer(s) before start", n)
	}
	s.active = nil

	if err := s.Store.DeleteAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear previous simulation: %w", err)
	}

	created, err := s.Store.Create(ctx, &models.Simulation{
		ID:        uuid.NewString(),
		Name:      name,
		State:     models.SimulationStateReady,
		Matches:   s.Matches.DefaultMatches(),
		StartTime: s.Clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create simulation: %w", err)
	}

	return s.start(ctx, created.Name)
}

// start arms the tick timer and moves the record to running with a fresh
// roster and start time.
func (s *SimulationService) start(ctx context.Context, name string) (*models.Simulation, error) {
	h, err := s.Timers.Arm(name, s.Config.TickInterval, s.tick)
	if err != nil {
		return nil, err
	}
	s.active = &simulationRun{name: name, handle: h}

	now := s.Clock.Now()
	sim, err := s.Store.Update(ctx, name, models.SimulationUpdate{
		State:     models.StateP(models.SimulationStateRunning),
		Matches:   s.Matches.DefaultMatches(),
		StartTime: &now,
	})
	if err != nil {
		s.Timers.Cancel(name)
		s.active = nil
		if delErr := s.Store.DeleteAll(ctx); delErr != nil {
			logrus.Errorf("[Scheduler] Failed to discard unstarted simulation %s: %v", name, delErr)
		}
		return nil, fmt.Errorf("failed to start simulation %q: %w", name, err)
	}

	logrus.Infof("▶️ [Scheduler] Simulation %s started (%d ticks every %s)", name, s.Config.TickBudget, s.Config.TickInterval)
	s.broadcast(sim)
	return sim, nil
}

// tick applies one scoring event. A failed tick still counts toward the
// budget and the next tick runs as scheduled. Ticks of a replaced or ended
// run are ignored.
func (s *SimulationService) tick(h *TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.active
	if h.Cancelled() || run == nil || run.handle != h {
		return
	}

	ctx := context.Background()
	run.ticks++
	logrus.Infof("[Scheduler] Simulation %s - ticks left: %d", run.name, s.Config.TickBudget-run.ticks)

	if err := s.applyGoalScoringEvent(ctx, run.name); err != nil {
		logrus.Errorf("[Scheduler] Tick %d of %s failed: %v", run.ticks, run.name, err)
	}

	if run.ticks < s.Config.TickBudget {
		return
	}

	if _, err := s.endLocked(ctx, run.name); err != nil {
		logrus.Errorf("[Scheduler] Failed to end simulation %s: %v", run.name, err)
		s.Timers.Cancel(run.name)
		s.active = nil
	}
}

func (s *SimulationService) applyGoalScoringEvent(ctx context.Context, name string) error {
	current, err := s.Store.FindCurrent(ctx)
	if err != nil {
		return fmt.Errorf("failed to load simulation: %w", err)
	}
	if current == nil || current.Name != name {
		return fmt.Errorf("simulation %q: %w", name, ErrNotFound)
	}

	updated, err := s.Store.Update(ctx, name, models.SimulationUpdate{
		Matches: s.Matches.ScoreOneGoal(current.Matches),
	})
	if err != nil {
		return fmt.Errorf("failed to persist scoring event: %w", err)
	}

	s.broadcast(updated)
	return nil
}

func (s *SimulationService) endLocked(ctx context.Context, name string) (*models.Simulation, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	s.Timers.Cancel(name)
	if s.active != nil && s.active.name == name {
		s.active = nil
	}

	sim, err := s.Store.Update(ctx, name, models.SimulationUpdate{
		State: models.StateP(models.SimulationStateFinished),
	})
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, fmt.Errorf("simulation %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to end simulation %q: %w", name, err)
	}

	logEndResults(sim)
	s.broadcast(sim)
	return sim, nil
}

func (s *SimulationService) broadcast(sim *models.Simulation) {
	if s.Broadcaster == nil || sim == nil {
		return
	}
	s.Broadcaster.Broadcast(EventUpdateSimulation, SimulationPayload{Simulation: sim.Clone()})
}

func logEndResults(sim *models.Simulation) {
	for _, m := range sim.Matches {
		logrus.Infof("⚽ Game %s vs %s ended with score %d - %d!", m.HomeName, m.AwayName, m.HomeScore, m.AwayScore)
	}
	logrus.Infof("🏁 [Scheduler] Simulation %s has ended! - %s", sim.Name, sim.State)
}
