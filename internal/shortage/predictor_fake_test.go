package shortage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stemlab-dev/idonat/internal/models"
)

type fakeHospitals struct {
	hospitals []models.Hospital
	broken    map[string]bool
	listErr   error
	calls     int32
	gate      chan struct{}
}

func (f *fakeHospitals) GetHospital(ctx context.Context, id string) (*models.Hospital, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.broken[id] {
		return nil, errors.New("connection reset")
	}
	for i := range f.hospitals {
		if f.hospitals[i].HospitalID == id {
			h := f.hospitals[i]
			return &h, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeHospitals) ListHospitals(context.Context) ([]models.Hospital, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.hospitals, nil
}

type trendCounts struct {
	recent int
	older  int
}

// fakeHistory 按 hospital|blood_type 返回固定的历史数据
type fakeHistory struct {
	daily  map[string][]models.DailyUsage
	counts map[string]trendCounts
	err    error
	now    time.Time
}

func historyKey(hospitalID string, bt models.BloodType) string {
	return hospitalID + "|" + string(bt)
}

func (f *fakeHistory) DailyUsage(_ context.Context, hospitalID string, bt models.BloodType, _ time.Time) ([]models.DailyUsage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.daily[historyKey(hospitalID, bt)], nil
}

func (f *fakeHistory) CountRequests(_ context.Context, hospitalID string, bt models.BloodType, from, _ time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	c := f.counts[historyKey(hospitalID, bt)]
	// 起点距 now 不超过 30 天的是近期窗口
	if f.now.Sub(from) <= 30*24*time.Hour {
		return c.recent, nil
	}
	return c.older, nil
}

type fakeSchedule struct {
	procedures []models.ScheduledProcedure
	err        error
}

func (f *fakeSchedule) Upcoming(context.Context, string, models.BloodType) ([]models.ScheduledProcedure, error) {
	return f.procedures, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, destination, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[string][]string)
	}
	n.sent[destination] = append(n.sent[destination], message)
	return nil
}

type recordingSink struct {
	alerts []models.ShortageAlert
	err    error
}

func (s *recordingSink) Publish(_ context.Context, alert models.ShortageAlert) error {
	s.alerts = append(s.alerts, alert)
	return s.err
}

type recordingStore struct {
	saved [][]models.ShortageAlert
}

func (s *recordingStore) SaveSweep(_ context.Context, alerts []models.ShortageAlert, _ time.Time) error {
	s.saved = append(s.saved, alerts)
	return nil
}
