package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stemlab-dev/idonat/internal/alerts"
	"github.com/stemlab-dev/idonat/internal/models"
)

type fakeRequests struct {
	mu        sync.Mutex
	requests  map[string]*models.BloodRequest
	responses []string
	createErr error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{requests: map[string]*models.BloodRequest{}}
}

func (f *fakeRequests) Create(ctx context.Context, req *models.BloodRequest, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if err := req.ValidateNewRequest(now); err != nil {
		return err
	}
	req.RequestID = fmt.Sprintf("req-%d", len(f.requests)+1)
	req.Status = models.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	f.requests[req.RequestID] = req
	return nil
}

func (f *fakeRequests) Get(ctx context.Context, requestID string) (*models.BloodRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("blood request not found: %s: %w", requestID, models.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRequests) UpdateStatus(ctx context.Context, requestID string, status models.RequestStatus, now time.Time) (models.RequestStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[requestID]
	if !ok {
		return "", fmt.Errorf("blood request not found: %s: %w", requestID, models.ErrNotFound)
	}
	previous := req.Status
	if err := models.ValidateTransition(previous, status); err != nil {
		return previous, err
	}
	req.Status = status
	return previous, nil
}

func (f *fakeRequests) RecordResponse(ctx context.Context, requestID, donorID string, response models.Response, donated bool, now time.Time) error {
	if !response.Valid() {
		return &models.ValidationError{Field: "response", Message: "must be one of pending, positive, negative"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[requestID]
	if !ok {
		return fmt.Errorf("blood request not found: %s: %w", requestID, models.ErrNotFound)
	}
	for i := range req.MatchAttempts {
		if req.MatchAttempts[i].DonorID == donorID {
			req.MatchAttempts[i].Response = response
			req.MatchAttempts[i].Responded = true
			req.MatchAttempts[i].Donated = donated
			f.responses = append(f.responses, donorID)
			return nil
		}
	}
	return fmt.Errorf("match attempt not found: %w", models.ErrNotFound)
}

type fakeHospitals struct {
	mu        sync.Mutex
	hospitals map[string]*models.Hospital
	listErr   error
}

func (f *fakeHospitals) GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hospitals[hospitalID]
	if !ok {
		return nil, fmt.Errorf("hospital not found: %s: %w", hospitalID, models.ErrNotFound)
	}
	cp := *h
	cp.Inventory = append([]models.InventoryItem(nil), h.Inventory...)
	return &cp, nil
}

func (f *fakeHospitals) ListHospitals(ctx context.Context) ([]models.Hospital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Hospital, 0, len(f.hospitals))
	for _, h := range f.hospitals {
		out = append(out, *h)
	}
	return out, nil
}

func (f *fakeHospitals) UpsertInventory(ctx context.Context, hospitalID string, bloodType models.BloodType, quantity int, now time.Time) error {
	if !bloodType.Valid() {
		return &models.ValidationError{Field: "blood_type", Message: "unknown blood type " + string(bloodType)}
	}
	if quantity < 0 {
		return &models.ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hospitals[hospitalID]
	if !ok {
		return fmt.Errorf("hospital not found: %s: %w", hospitalID, models.ErrNotFound)
	}
	for i := range h.Inventory {
		if h.Inventory[i].BloodType == bloodType {
			h.Inventory[i].Quantity = quantity
			h.Inventory[i].LastUpdated = now
			return nil
		}
	}
	h.Inventory = append(h.Inventory, models.InventoryItem{BloodType: bloodType, Quantity: quantity, LastUpdated: now})
	return nil
}

type fakeDonors struct {
	donors map[string]*models.Donor
	err    error
	calls  int
}

func (f *fakeDonors) GetDonor(ctx context.Context, donorID string) (*models.Donor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.donors[donorID]
	if !ok {
		return nil, fmt.Errorf("donor not found: %s: %w", donorID, models.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// fakePredictor 库存低于 5 视为可能短缺
type fakePredictor struct {
	hospitals *fakeHospitals
	calls     int
	mu        sync.Mutex
}

func (f *fakePredictor) Predict(ctx context.Context, hospitalID string, bloodType models.BloodType) (*models.ShortagePrediction, error) {
	if !bloodType.Valid() {
		return nil, &models.ValidationError{Field: "blood_type", Message: "unknown blood type " + string(bloodType)}
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	h, err := f.hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	stock := h.Stock(bloodType)
	pred := &models.ShortagePrediction{
		HospitalID:   hospitalID,
		BloodType:    bloodType,
		CurrentStock: stock,
		Severity:     models.SeverityNone,
		Confidence:   0.3,
	}
	if stock < 5 {
		pred.IsLikely = true
		pred.Severity = models.SeverityHigh
		pred.Confidence = 0.8
		pred.DaysUntilShortage = stock
	}
	return pred, nil
}

type fakeFulfill struct {
	calls []string
	sent  int
}

func (f *fakeFulfill) NotifyFulfilled(ctx context.Context, requestID string) (int, error) {
	f.calls = append(f.calls, requestID)
	return f.sent, nil
}

type fakeSweeps struct {
	sweep *alerts.Sweep
	err   error
}

func (f *fakeSweeps) Latest(ctx context.Context) (*alerts.Sweep, error) {
	return f.sweep, f.err
}

type fakeTrigger struct {
	count int
}

func (f *fakeTrigger) Trigger() {
	f.count++
}
