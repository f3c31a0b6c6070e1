package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fms-api/models"
	"fms-api/stores"
)

type recordedEvent struct {
	Event      string
	Simulation *models.Simulation
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) Broadcast(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, _ := payload.(SimulationPayload)
	b.events = append(b.events, recordedEvent{Event: event, Simulation: p.Simulation})
}

func (b *recordingBroadcaster) Events() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedEvent(nil), b.events...)
}

func (b *recordingBroadcaster) Last() recordedEvent {
	events := b.Events()
	if len(events) == 0 {
		return recordedEvent{}
	}
	return events[len(events)-1]
}

// failingStore fails updates of matches or the move to running once armed.
type failingStore struct {
	*stores.MemoryStore
	failMatches bool
	failStart   bool
}

func (s *failingStore) Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error) {
	if s.failMatches && upd.Matches != nil && upd.State == nil {
		return nil, errors.New("store unavailable")
	}
	if s.failStart && upd.State != nil && *upd.State == models.SimulationStateRunning {
		return nil, errors.New("store unavailable")
	}
	return s.MemoryStore.Update(ctx, name, upd)
}

type testEnv struct {
	svc   *SimulationService
	store SimulationStore
	hub   *recordingBroadcaster
	clock *clockwork.FakeClock
}

// newTestEnv builds a service whose timers never fire on their own: ticks
// are driven with env.tick. The service clock is separate so advancing it
// does not wake the scheduler.
func newTestEnv(t *testing.T, store SimulationStore) *testEnv {
	t.Helper()
	if store == nil {
		store = stores.NewMemoryStore()
	}

	timers := newTestRegistry(t, clockwork.NewFakeClock())
	hub := &recordingBroadcaster{}
	svc := NewSimulationService(store, hub, timers, DefaultSchedulerConfig())
	svc.Matches = NewMatchGenerator(rand.NewPCG(3, 4))

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC))
	svc.Clock = clock

	return &testEnv{svc: svc, store: store, hub: hub, clock: clock}
}

func (e *testEnv) tick(t *testing.T, name string) {
	t.Helper()
	h := e.svc.Timers.Active(name)
	require.NotNil(t, h, "no timer armed for %q", name)
	e.svc.tick(h)
}

func (e *testEnv) current(t *testing.T) *models.Simulation {
	t.Helper()
	sim, err := e.svc.GetCurrent(context.Background())
	require.NoError(t, err)
	return sim
}

func TestGetCurrent_NoneStored(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Nil(t, env.current(t))
}

func TestCreateOrStart_NewSimulationIsRunning(t *testing.T) {
	env := newTestEnv(t, nil)

	sim, err := env.svc.CreateOrStart(context.Background(), "Berlin 2024")
	require.NoError(t, err)

	assert.Equal(t, "Berlin 2024", sim.Name)
	assert.Equal(t, models.SimulationStateRunning, sim.State)
	assert.Equal(t, DefaultMatches(), []models.Match(sim.Matches))
	assert.True(t, sim.StartTime.Equal(env.clock.Now()))
	assert.NotEmpty(t, sim.ID)

	assert.NotNil(t, env.svc.Timers.Active("Berlin 2024"))
	assert.Equal(t, EventUpdateSimulation, env.hub.Last().Event)
	assert.Equal(t, models.SimulationStateRunning, env.hub.Last().Simulation.State)
}

func TestCreateOrStart_RejectsEmptyName(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.CreateOrStart(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Nil(t, env.current(t))
}

func TestCreateOrStart_RestartTooSoonLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	env.tick(t, "Berlin 2024")
	before := env.current(t)

	env.clock.Advance(3 * time.Second)
	_, err = env.svc.CreateOrStart(ctx, "Madrid 2024")

	require.ErrorIs(t, err, ErrRestartTooSoon)
	var tooSoon *RestartTooSoonError
	require.ErrorAs(t, err, &tooSoon)
	assert.Equal(t, 2*time.Second, tooSoon.Remaining)
	assert.Equal(t, "Can't run simulation sooner than 5 seconds after previous run", err.Error())

	assert.Equal(t, before, env.current(t))
	assert.NotNil(t, env.svc.Timers.Active("Berlin 2024"))
}

func TestCreateOrStart_CooldownBoundaryIsExclusive(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	_, err = env.svc.CreateOrStart(ctx, "Berlin 2024")
	assert.ErrorIs(t, err, ErrRestartTooSoon)

	env.clock.Advance(time.Millisecond)
	_, err = env.svc.CreateOrStart(ctx, "Berlin 2024")
	assert.NoError(t, err)
}

func TestCreateOrStart_AfterCooldownReplacesRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	env.tick(t, "Berlin 2024")
	env.tick(t, "Berlin 2024")
	oldHandle := env.svc.Timers.Active("Berlin 2024")

	env.clock.Advance(6 * time.Second)
	second, err := env.svc.CreateOrStart(ctx, "Madrid 2024")
	require.NoError(t, err)

	assert.Equal(t, "Madrid 2024", second.Name)
	assert.Equal(t, models.SimulationStateRunning, second.State)
	assert.Equal(t, 0, second.TotalGoals())
	assert.True(t, second.StartTime.After(first.StartTime))
	assert.NotEqual(t, first.ID, second.ID)

	// the old run is gone: one timer, and its stale ticks do nothing
	assert.True(t, oldHandle.Cancelled())
	assert.Equal(t, 1, env.svc.Timers.Len())
	env.svc.tick(oldHandle)
	assert.Equal(t, 0, env.current(t).TotalGoals())
}

func TestTick_ScoresOneGoalAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.CreateOrStart(context.Background(), "Berlin 2024")
	require.NoError(t, err)
	broadcasts := len(env.hub.Events())

	env.tick(t, "Berlin 2024")

	sim := env.current(t)
	assert.Equal(t, 1, sim.TotalGoals())
	assert.Equal(t, models.SimulationStateRunning, sim.State)
	require.Len(t, env.hub.Events(), broadcasts+1)
	assert.Equal(t, 1, env.hub.Last().Simulation.TotalGoals())
}

func TestTick_BudgetEndsSimulation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.CreateOrStart(context.Background(), "Berlin 2024")
	require.NoError(t, err)
	h := env.svc.Timers.Active("Berlin 2024")

	for i := 0; i < 8; i++ {
		env.svc.tick(h)
	}
	assert.Equal(t, models.SimulationStateRunning, env.current(t).State)

	env.svc.tick(h)

	sim := env.current(t)
	assert.Equal(t, models.SimulationStateFinished, sim.State)
	assert.Equal(t, 9, sim.TotalGoals())
	assert.True(t, h.Cancelled())
	assert.Equal(t, 0, env.svc.Timers.Len())

	last := env.hub.Last()
	assert.Equal(t, models.SimulationStateFinished, last.Simulation.State)
	assert.Equal(t, 9, last.Simulation.TotalGoals())

	// late ticks change nothing
	env.svc.tick(h)
	assert.Equal(t, 9, env.current(t).TotalGoals())
}

func TestTick_FailedTickCountsTowardBudget(t *testing.T) {
	store := &failingStore{MemoryStore: stores.NewMemoryStore()}
	env := newTestEnv(t, store)

	_, err := env.svc.CreateOrStart(context.Background(), "Berlin 2024")
	require.NoError(t, err)
	h := env.svc.Timers.Active("Berlin 2024")

	store.failMatches = true
	env.svc.tick(h)
	store.failMatches = false

	for i := 0; i < 8; i++ {
		env.svc.tick(h)
	}

	sim := env.current(t)
	assert.Equal(t, models.SimulationStateFinished, sim.State)
	assert.Equal(t, 8, sim.TotalGoals())
}

func TestEndSimulation_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	env.tick(t, "Berlin 2024")

	first, err := env.svc.EndSimulation(ctx, "Berlin 2024")
	require.NoError(t, err)
	second, err := env.svc.EndSimulation(ctx, "Berlin 2024")
	require.NoError(t, err)

	assert.Equal(t, models.SimulationStateFinished, first.State)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, first.Name, second.Name)
	assert.True(t, first.StartTime.Equal(second.StartTime))
	assert.Nil(t, env.svc.Timers.Active("Berlin 2024"))
}

func TestEndSimulation_UnknownName(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.EndSimulation(ctx, "Nowhere 2024")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	_, err = env.svc.EndSimulation(ctx, "Madrid 2024")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotNil(t, env.svc.Timers.Active("Berlin 2024"), "ending another name must not stop the active run")
}

func TestScenario_Berlin2024(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sim, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	assert.Equal(t, models.SimulationStateRunning, sim.State)
	assert.Len(t, sim.Matches, 3)
	assert.Equal(t, 0, sim.TotalGoals())

	env.tick(t, "Berlin 2024")
	assert.Equal(t, 1, env.current(t).TotalGoals())

	h := env.svc.Timers.Active("Berlin 2024")
	for i := 0; i < 8; i++ {
		env.svc.tick(h)
	}
	sim = env.current(t)
	assert.Equal(t, models.SimulationStateFinished, sim.State)
	assert.Equal(t, 9, sim.TotalGoals())

	_, err = env.svc.CreateOrStart(ctx, "Berlin 2024")
	assert.ErrorIs(t, err, ErrRestartTooSoon)

	env.clock.Advance(6 * time.Second)
	sim, err = env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	assert.Equal(t, models.SimulationStateRunning, sim.State)
	assert.Equal(t, DefaultMatches(), []models.Match(sim.Matches))
}

func TestSimulationService_RunsToCompletionOnRealTimer(t *testing.T) {
	timers := newTestRegistry(t, nil)
	hub := &recordingBroadcaster{}
	cfg := DefaultSchedulerConfig()
	cfg.TickInterval = 10 * time.Millisecond
	svc := NewSimulationService(stores.NewMemoryStore(), hub, timers, cfg)

	_, err := svc.CreateOrStart(context.Background(), "Berlin 2024")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sim, err := svc.GetCurrent(context.Background())
		return err == nil && sim != nil && sim.State == models.SimulationStateFinished
	}, 5*time.Second, 10*time.Millisecond)

	sim, err := svc.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, sim.TotalGoals())
	assert.Equal(t, 0, timers.Len())

	time.Sleep(50 * time.Millisecond)
	sim, err = svc.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, sim.TotalGoals(), "no goals after the run finished")

	// start + 9 ticks + final snapshot
	assert.Len(t, hub.Events(), 11)
}

func TestCreateOrStart_FailedStartLeavesNothingBehind(t *testing.T) {
	store := &failingStore{MemoryStore: stores.NewMemoryStore(), failStart: true}
	env := newTestEnv(t, store)
	ctx := context.Background()

	_, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.Error(t, err)

	assert.Nil(t, env.current(t))
	assert.Equal(t, 0, env.svc.Timers.Len())
	assert.Empty(t, env.hub.Events())

	store.failStart = false
	sim, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err, "a retry must not be blocked by the cooldown")
	assert.Equal(t, models.SimulationStateRunning, sim.State)
	assert.NotNil(t, env.svc.Timers.Active("Berlin 2024"))
}

func TestCreateOrStart_ReadyRecordIsReplacedImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.store.Create(ctx, &models.Simulation{
		ID:        "stranded",
		Name:      "Munich 2024",
		State:     models.SimulationStateReady,
		Matches:   DefaultMatches(),
		StartTime: env.clock.Now(),
	})
	require.NoError(t, err)

	sim, err := env.svc.CreateOrStart(ctx, "Berlin 2024")
	require.NoError(t, err)
	assert.Equal(t, "Berlin 2024", sim.Name)
	assert.Equal(t, models.SimulationStateRunning, sim.State)
}
