package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

type fakeLetterRepo struct {
	mu      sync.Mutex
	letters map[string]*entity.Letter
}

func newFakeLetterRepo() *fakeLetterRepo {
	return &fakeLetterRepo{letters: make(map[string]*entity.Letter)}
}

func (f *fakeLetterRepo) Create(ctx context.Context, letter *entity.Letter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters[letter.ID] = letter.Clone()
	return nil
}

func (f *fakeLetterRepo) GetByID(ctx context.Context, id string) (*entity.Letter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.letters[id]
	if !ok {
		return nil, nil
	}
	return l.Clone(), nil
}

func (f *fakeLetterRepo) Update(ctx context.Context, letter *entity.Letter, expectedVersion int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.letters[letter.ID]
	if !ok || cur.Version != expectedVersion {
		return false, nil
	}
	f.letters[letter.ID] = letter.Clone()
	return true, nil
}

func (f *fakeLetterRepo) TouchReminder(ctx context.Context, id string, at, notBefore time.Time) (bool, error) {
	return false, nil
}

func (f *fakeLetterRepo) ListAssigned(ctx context.Context, actorID string) ([]*entity.Letter, error) {
	return nil, nil
}

func (f *fakeLetterRepo) ListBySubmitter(ctx context.Context, submitterID string) ([]*entity.Letter, error) {
	return nil, nil
}

func (f *fakeLetterRepo) put(l *entity.Letter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters[l.ID] = l.Clone()
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	records []*entity.ApprovalHistory
}

func (f *fakeHistoryRepo) Create(ctx context.Context, h *entity.ApprovalHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = int64(len(f.records) + 1)
	f.records = append(f.records, h)
	return nil
}

func (f *fakeHistoryRepo) GetByLetterID(ctx context.Context, letterID string) ([]*entity.ApprovalHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.ApprovalHistory
	for _, h := range f.records {
		if h.LetterID == letterID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHistoryRepo) GetByActorID(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error) {
	return nil, nil
}

type fakeActorRepo struct {
	actors map[string]*entity.Actor
}

func (f *fakeActorRepo) GetByID(ctx context.Context, id string) (*entity.Actor, error) {
	return f.actors[id], nil
}

func (f *fakeActorRepo) Upsert(ctx context.Context, a *entity.Actor) error {
	f.actors[a.ID] = a
	return nil
}

func (f *fakeActorRepo) FindByDesignation(ctx context.Context, department, designation string) (*entity.Actor, error) {
	return nil, nil
}

type fakeTxManager struct{}

func (fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubResolver struct {
	steps []entity.WorkflowStep
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, submitter *entity.Actor) ([]entity.WorkflowStep, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]entity.WorkflowStep(nil), s.steps...), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingNotifier) Notify(evt *event.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return true
}

func (r *recordingNotifier) all() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func testPNGBase64() string {
	return base64.StdEncoding.EncodeToString(testPNG())
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
