package matching

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stemlab-dev/idonat/internal/models"
)

// fakeDirectory 内存版候选检索：过滤 + 排序规则与 SQL 版本一致
type fakeDirectory struct {
	mu      sync.Mutex
	donors  []models.Donor
	err     error
	queries []models.CandidateQuery
}

func (f *fakeDirectory) FindCandidates(_ context.Context, q models.CandidateQuery) ([]models.Donor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	excluded := make(map[string]bool, len(q.ExcludeDonorIDs))
	for _, id := range q.ExcludeDonorIDs {
		excluded[id] = true
	}

	type scored struct {
		donor    models.Donor
		distance float64
	}
	var matches []scored
	for _, d := range f.donors {
		if d.BloodType != q.BloodType || !d.IsActive || excluded[d.DonorID] {
			continue
		}
		dist := q.Origin.DistanceMeters(d.Location)
		if dist > q.MaxDistanceMeters {
			continue
		}
		matches = append(matches, scored{donor: d, distance: dist})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].donor.LastDonationDate, matches[j].donor.LastDonationDate
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return matches[i].distance < matches[j].distance
	})

	out := []models.Donor{}
	for i, m := range matches {
		if i >= q.Limit {
			break
		}
		out = append(out, m.donor)
	}
	return out, nil
}

// fakeLedger 内存版请求存储，AppendMatches 实现 version 比较交换与去重
type fakeLedger struct {
	mu        sync.Mutex
	requests  map[string]*models.MatchableRequest
	order     []string
	listErr   error
	appendErr map[string]error
	expireRun int

	// beforeAppend 在比较交换之前调用，用于模拟并发写入
	beforeAppend func(requestID string)
}

func newFakeLedger(reqs ...models.MatchableRequest) *fakeLedger {
	l := &fakeLedger{
		requests:  make(map[string]*models.MatchableRequest),
		appendErr: make(map[string]error),
	}
	for i := range reqs {
		r := reqs[i]
		l.requests[r.RequestID] = &r
		l.order = append(l.order, r.RequestID)
	}
	return l
}

func (l *fakeLedger) ListMatchable(_ context.Context, now time.Time) ([]models.MatchableRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}

	var out []models.MatchableRequest
	for _, id := range l.order {
		r := l.requests[id]
		if r.Status != models.StatusPending || !r.RequiredBy.After(now) {
			continue
		}
		cp := *r
		cp.MatchAttempts = append([]models.MatchAttempt(nil), r.MatchAttempts...)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequiredBy.Before(out[j].RequiredBy) })
	return out, nil
}

func (l *fakeLedger) AppendMatches(_ context.Context, requestID string, expectedVersion int64, donorIDs []string, notifiedAt time.Time) ([]string, error) {
	if l.beforeAppend != nil {
		l.beforeAppend(requestID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendErr[requestID]; err != nil {
		return nil, err
	}

	r, ok := l.requests[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Version != expectedVersion || r.Status != models.StatusPending {
		return nil, models.ErrConcurrentModification
	}
	r.Version++

	existing := make(map[string]bool, len(r.MatchAttempts))
	for _, m := range r.MatchAttempts {
		existing[m.DonorID] = true
	}
	inserted := []string{}
	for _, id := range donorIDs {
		if existing[id] {
			continue
		}
		existing[id] = true
		r.MatchAttempts = append(r.MatchAttempts, models.MatchAttempt{
			DonorID:    id,
			NotifiedAt: notifiedAt,
			Response:   models.ResponsePending,
		})
		inserted = append(inserted, id)
	}
	return inserted, nil
}

func (l *fakeLedger) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireRun++

	var n int64
	for _, r := range l.requests {
		if r.Status == models.StatusPending && r.RequiredBy.Before(now) {
			r.Status = models.StatusExpired
			r.Version++
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) Get(_ context.Context, requestID string) (*models.BloodRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := r.BloodRequest
	return &cp, nil
}

func (l *fakeLedger) ListPositiveResponders(_ context.Context, requestID string) ([]models.Donor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	var out []models.Donor
	for _, m := range r.MatchAttempts {
		if m.Response == models.ResponsePositive {
			out = append(out, models.Donor{DonorID: m.DonorID, Phone: "tel:" + m.DonorID})
		}
	}
	return out, nil
}

// setResponse 模拟献血者回复
func (l *fakeLedger) setResponse(requestID, donorID string, response models.Response, donated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.requests[requestID]
	for i := range r.MatchAttempts {
		if r.MatchAttempts[i].DonorID == donorID {
			r.MatchAttempts[i].Response = response
			r.MatchAttempts[i].Responded = response != models.ResponsePending
			r.MatchAttempts[i].Donated = r.MatchAttempts[i].Donated || donated
		}
	}
	r.Version++
}

func (l *fakeLedger) request(id string) models.MatchableRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.requests[id]
}

type fakeHospitals struct {
	hospitals map[string]models.Hospital
}

func (f *fakeHospitals) GetHospital(_ context.Context, id string) (*models.Hospital, error) {
	h, ok := f.hospitals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &h, nil
}

type sentMessage struct {
	destination string
	message     string
}

// fakeNotifier 记录所有发送，failFor 中的号码返回错误
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
	block   bool
}

func (n *fakeNotifier) Send(ctx context.Context, destination, message string) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[destination] {
		return errors.New("gateway unavailable")
	}
	n.sent = append(n.sent, sentMessage{destination: destination, message: message})
	return nil
}

func (n *fakeNotifier) destinations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.destination)
	}
	return out
}

type fakeMetrics struct {
	completed int
	skipped   int
	attempts  int
}

func (m *fakeMetrics) PassCompleted(_ time.Duration, attempts, _, _, _ int, _ int64) {
	m.completed++
	m.attempts += attempts
}

func (m *fakeMetrics) PassSkipped() { m.skipped++ }
