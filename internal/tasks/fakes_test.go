package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/events"
	"github.com/helixir/paper-recommender/internal/recommender"
	"github.com/helixir/paper-recommender/internal/repository"
)

// memoryTasks is an in-memory TaskRepository with the same guards as the
// PostgreSQL one: one running row at a time and Finish only from running.
type memoryTasks struct {
	mu        sync.Mutex
	lockMu    sync.Mutex
	tasks     map[uuid.UUID]*domain.RecommendationTask
	order     []uuid.UUID
	lockCalls int
	appendErr error
	createErr error
	// finishErr, when set, can reject a Finish before it is applied.
	finishErr func(update repository.TaskFinish) error
}

func newMemoryTasks() *memoryTasks {
	return &memoryTasks{tasks: make(map[uuid.UUID]*domain.RecommendationTask)}
}

func cloneTask(t *domain.RecommendationTask) *domain.RecommendationTask {
	c := *t
	c.Logs = append([]domain.TaskLogEntry(nil), t.Logs...)
	return &c
}

// seedRunning stores a running task with no goroutine behind it.
func (m *memoryTasks) seedRunning(created time.Time) *domain.RecommendationTask {
	task := &domain.RecommendationTask{
		ID:        uuid.New(),
		Trigger:   domain.TaskTriggerManual,
		Status:    domain.TaskStatusRunning,
		StartedAt: &created,
		CreatedAt: created,
		UpdatedAt: created,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = cloneTask(task)
	m.order = append(m.order, task.ID)
	return task
}

func (m *memoryTasks) Create(_ context.Context, task *domain.RecommendationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.tasks[task.ID]; ok {
		return domain.NewAlreadyExistsError("task", task.ID.String())
	}
	if task.Status == domain.TaskStatusRunning {
		for _, t := range m.tasks {
			if t.Status == domain.TaskStatusRunning {
				return fmt.Errorf("another recommendation task is running: %w", domain.ErrConflict)
			}
		}
	}
	m.tasks[task.ID] = cloneTask(task)
	m.order = append(m.order, task.ID)
	return nil
}

func (m *memoryTasks) Get(_ context.Context, id uuid.UUID) (*domain.RecommendationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.NewNotFoundError("task", id.String())
	}
	return cloneTask(t), nil
}

func (m *memoryTasks) Latest(_ context.Context) (*domain.RecommendationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil, domain.NewNotFoundError("task", "latest")
	}
	return cloneTask(m.tasks[m.order[len(m.order)-1]]), nil
}

func (m *memoryTasks) LatestRunning(_ context.Context) (*domain.RecommendationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if t := m.tasks[m.order[i]]; t.Status == domain.TaskStatusRunning {
			return cloneTask(t), nil
		}
	}
	return nil, domain.NewNotFoundError("task", "running")
}

func (m *memoryTasks) ListRunning(_ context.Context) ([]*domain.RecommendationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RecommendationTask
	for i := len(m.order) - 1; i >= 0; i-- {
		if t := m.tasks[m.order[i]]; t.Status == domain.TaskStatusRunning {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (m *memoryTasks) AppendLog(_ context.Context, id uuid.UUID, entry domain.TaskLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	t, ok := m.tasks[id]
	if !ok {
		return domain.NewNotFoundError("task", id.String())
	}
	t.Logs = append(t.Logs, entry)
	return nil
}

func (m *memoryTasks) Finish(_ context.Context, id uuid.UUID, update repository.TaskFinish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		if err := m.finishErr(update); err != nil {
			return err
		}
	}
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return fmt.Errorf("task %s is not running: %w", id, domain.ErrConflict)
	}
	finished := update.FinishedAt
	t.Status = update.Status
	t.RunID = update.RunID
	t.Error = update.Error
	t.FinishedAt = &finished
	t.Logs = append(t.Logs, update.Log)
	return nil
}

func (m *memoryTasks) WithEnqueueLock(_ context.Context, fn func(repository.TaskRepository) error) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	m.mu.Lock()
	m.lockCalls++
	m.mu.Unlock()
	return fn(m)
}

func (m *memoryTasks) messages(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.tasks[id].Logs {
		out = append(out, e.Message)
	}
	return out
}

func (m *memoryTasks) countStatus(status domain.TaskStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

type memoryLibrary struct {
	folders []domain.Folder
	papers  []domain.LibraryPaper
	err     error
	// afterList runs once ListPapers has taken its copy, simulating a
	// concurrent library write.
	afterList func(l *memoryLibrary)
}

func (l *memoryLibrary) ListFolders(context.Context) ([]domain.Folder, error) {
	return l.folders, l.err
}

func (l *memoryLibrary) ListPapers(context.Context) ([]domain.LibraryPaper, error) {
	papers := append([]domain.LibraryPaper(nil), l.papers...)
	if l.afterList != nil {
		l.afterList(l)
	}
	return papers, l.err
}

func (l *memoryLibrary) GetPaper(_ context.Context, id uuid.UUID) (*domain.LibraryPaper, error) {
	for _, p := range l.papers {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, domain.NewNotFoundError("paper", id.String())
}

type memoryEmbeddings struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]domain.PaperEmbedding
	upserts   int
	upsertErr error
}

func newMemoryEmbeddings() *memoryEmbeddings {
	return &memoryEmbeddings{rows: make(map[uuid.UUID]domain.PaperEmbedding)}
}

func (e *memoryEmbeddings) GetByPaperIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.PaperEmbedding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uuid.UUID]domain.PaperEmbedding)
	for _, id := range ids {
		if row, ok := e.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (e *memoryEmbeddings) Upsert(_ context.Context, rows []domain.PaperEmbedding) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.upsertErr != nil {
		return e.upsertErr
	}
	for _, r := range rows {
		e.rows[r.PaperID] = r
	}
	e.upserts += len(rows)
	return nil
}

type memoryRuns struct {
	mu   sync.Mutex
	runs []*domain.RecommendationRun
	err  error
}

func (r *memoryRuns) Create(_ context.Context, run *domain.RunCreate) (*domain.RecommendationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	stored := &domain.RecommendationRun{
		ID:        uuid.New(),
		Source:    run.Source,
		Meta:      run.Meta,
		CreatedAt: time.Now(),
	}
	for _, in := range run.Items {
		stored.Items = append(stored.Items, domain.RecommendationItem{ID: uuid.New(), RunID: stored.ID, ItemIn: in})
	}
	r.runs = append(r.runs, stored)
	return stored, nil
}

func (r *memoryRuns) Latest(context.Context) (*domain.RecommendationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) == 0 {
		return nil, domain.NewNotFoundError("run", "latest")
	}
	return r.runs[len(r.runs)-1], nil
}

func (r *memoryRuns) GetItem(_ context.Context, id uuid.UUID) (*domain.RecommendationItem, error) {
	return nil, domain.NewNotFoundError("item", id.String())
}

// hashEmbedder derives a small deterministic vector from text length and
// its first byte.
type hashEmbedder struct {
	mu       sync.Mutex
	model    string
	calls    int
	short    bool
	err      error
	lastSeen []string
}

func (e *hashEmbedder) embed(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastSeen = texts
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		first := float32(0)
		if t != "" {
			first = float32(t[0])
		}
		out = append(out, []float32{float32(len(t)), first, 1})
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *hashEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	return e.embed(texts)
}

func (e *hashEmbedder) EmbedQueries(_ context.Context, texts []string) ([][]float32, error) {
	return e.embed(texts)
}

func (e *hashEmbedder) Provider() string { return "test" }

func (e *hashEmbedder) Model() string {
	if e.model == "" {
		return "hash-3"
	}
	return e.model
}

type staticIdentity struct{ provider, model string }

func (i staticIdentity) Provider() string { return i.provider }
func (i staticIdentity) Model() string    { return i.model }

// fakePipeline implements Pipeline with a function field.
type fakePipeline struct {
	mu    sync.Mutex
	input recommender.Input
	fn    func(ctx context.Context, in recommender.Input) (*domain.RunCreate, error)
}

func (p *fakePipeline) Run(ctx context.Context, in recommender.Input) (*domain.RunCreate, error) {
	p.mu.Lock()
	p.input = in
	p.mu.Unlock()
	return p.fn(ctx, in)
}

func (p *fakePipeline) lastInput() recommender.Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

var _ events.Publisher = (*fakePublisher)(nil)

func (p *fakePublisher) Publish(_ context.Context, event *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []*domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Event(nil), p.events...)
}

type fakeLocker struct {
	names []string
}

func (l *fakeLocker) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.names = append(l.names, name)
	return fn(ctx)
}

type fakeMirror struct {
	batches [][]domain.PaperEmbedding
	err     error
}

func (m *fakeMirror) Mirror(_ context.Context, rows []domain.PaperEmbedding, _ map[uuid.UUID]domain.LibraryPaper) (int, error) {
	m.batches = append(m.batches, rows)
	if m.err != nil {
		return 0, m.err
	}
	return len(rows), nil
}

func testPaper(folder *uuid.UUID, title string, created time.Time) domain.LibraryPaper {
	return domain.LibraryPaper{
		ID:        uuid.New(),
		FolderID:  folder,
		Title:     title,
		CreatedAt: created,
	}
}

// hasSubsequence reports whether want appears in got in order, allowing gaps.
func hasSubsequence(got, want []string) bool {
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	return i == len(want)
}

func withPrefix(lines []string, prefix string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
