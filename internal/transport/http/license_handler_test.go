package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "salespoint/internal/errors"
	"salespoint/internal/license"
	"salespoint/internal/services"
)

type mockLicenseService struct {
	mock.Mock
}

func (m *mockLicenseService) Create(ctx context.Context, req services.CreateLicenseRequest) (*license.License, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.License), args.Error(1)
}

func (m *mockLicenseService) Verify(ctx context.Context, key string, sys *license.SystemInfo) (*license.VerificationResult, error) {
	args := m.Called(ctx, key, sys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.VerificationResult), args.Error(1)
}

func (m *mockLicenseService) Activate(ctx context.Context, key string, sys license.SystemInfo) (*license.Activation, error) {
	args := m.Called(ctx, key, sys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Activation), args.Error(1)
}

func (m *mockLicenseService) Deactivate(ctx context.Context, activationKey, reason string) error {
	args := m.Called(ctx, activationKey, reason)
	return args.Error(0)
}

func (m *mockLicenseService) GetStatus(ctx context.Context, key string) (*services.LicenseStatusResponse, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LicenseStatusResponse), args.Error(1)
}

func (m *mockLicenseService) Activations(ctx context.Context, key string) ([]*license.Activation, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*license.Activation), args.Error(1)
}

func (m *mockLicenseService) List(ctx context.Context) ([]*license.License, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*license.License), args.Error(1)
}

func (m *mockLicenseService) Stats(ctx context.Context) (*services.StatsResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatsResponse), args.Error(1)
}

func newTestHandler(svc services.LicenseService) *LicenseHandler {
	return NewLicenseHandler(svc, nil, testLogger())
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateLicense(t *testing.T) {
	svc := new(mockLicenseService)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	created := &license.License{
		ID:         "lic-1",
		LicenseKey: "KQ2M4-ZX7BK-P3RD2-W9FH7",
		Type:       license.TypeYearly,
		Status:     license.StatusActive,
		ClientName: "Acme Retail",
		IssuedAt:   now,
	}
	svc.On("Create", mock.Anything, mock.MatchedBy(func(req services.CreateLicenseRequest) bool {
		return req.Type == license.TypeYearly && req.ClientName == "Acme Retail"
	})).Return(created, nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/", map[string]any{
		"type":        "yearly",
		"client_name": "Acme Retail",
		"max_users":   10,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var got CreateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "lic-1", got.License.ID)
	assert.Equal(t, "KQ2M4-ZX7BK-P3RD2-W9FH7", got.License.LicenseKey)
	assert.True(t, got.KeyValidation.IsValid)
	assert.Equal(t, license.RiskLow, got.Risk.Level)
	svc.AssertExpectations(t)
}

func TestCreateLicenseValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing type", body: map[string]any{"client_name": "Acme"}},
		{name: "unknown type", body: map[string]any{"type": "forever", "client_name": "Acme"}},
		{name: "missing client name", body: map[string]any{"type": "trial"}},
		{name: "bad email", body: map[string]any{"type": "trial", "client_name": "Acme", "client_email": "not-an-email"}},
		{name: "negative max users", body: map[string]any{"type": "trial", "client_name": "Acme", "max_users": -1}},
	}

	svc := new(mockLicenseService)
	handler := newTestHandler(svc)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler.Routes(), "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateLicenseMalformedBody(t *testing.T) {
	svc := new(mockLicenseService)
	handler := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestVerifyLicense(t *testing.T) {
	svc := new(mockLicenseService)
	result := &license.VerificationResult{
		IsValid:    true,
		Confidence: 100,
		Checks: license.VerificationChecks{
			Format: true, Checksum: true, Expiration: true,
			Activation: true, Hardware: true, Status: true,
		},
		RiskLevel:         license.RiskLow,
		VerificationScore: 100,
	}
	svc.On("Verify", mock.Anything, "KQ2M4-ZX7BK-P3RD2-W9FH7", (*license.SystemInfo)(nil)).
		Return(result, nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/verify", map[string]any{
		"licenseKey": "KQ2M4-ZX7BK-P3RD2-W9FH7",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var got VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.IsValid)
	assert.Equal(t, 100, got.Confidence)
	assert.Nil(t, got.Details)
	assert.Empty(t, got.Report)
	svc.AssertExpectations(t)
}

func TestVerifyLicenseWithSystemInfo(t *testing.T) {
	svc := new(mockLicenseService)
	result := &license.VerificationResult{IsValid: true, Confidence: 100, RiskLevel: license.RiskLow}
	svc.On("Verify", mock.Anything, "KQ2M4-ZX7BK-P3RD2-W9FH7",
		&license.SystemInfo{HardwareID: "HW-1", Domain: "shop.example.com"}).
		Return(result, nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/verify", map[string]any{
		"licenseKey": "KQ2M4-ZX7BK-P3RD2-W9FH7",
		"systemInfo": map[string]any{"hardware_id": "HW-1", "domain": "shop.example.com"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestVerifyLicenseReport(t *testing.T) {
	svc := new(mockLicenseService)
	result := &license.VerificationResult{
		IsValid:           false,
		Confidence:        50,
		RiskLevel:         license.RiskHigh,
		VerificationScore: 50,
		Issues:            []string{"License has expired"},
		Recommendations:   []string{"Renew the license"},
	}
	svc.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(result, nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/verify", map[string]any{
		"licenseKey":     "KQ2M4-ZX7BK-P3RD2-W9FH7",
		"generateReport": true,
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var got VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Contains(t, got.Report, "INVALID")
	assert.Contains(t, got.Report, "License has expired")
	assert.Contains(t, got.Report, "KQ2M****9FH7")
}

func TestVerifyLicenseNotFound(t *testing.T) {
	svc := new(mockLicenseService)
	svc.On("Verify", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrLicenseNotFound)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/verify", map[string]any{
		"licenseKey": "KQ2M4-ZX7BK-P3RD2-W9FH7",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, apperrors.CodeLicenseNotFound, problem["error_code"])
}

func TestActivateLicense(t *testing.T) {
	svc := new(mockLicenseService)
	activation := &license.Activation{
		ID:            "act-1",
		ActivationKey: "f1c7b9d2",
		LicenseID:     "lic-1",
		Domain:        "shop.example.com",
		HardwareID:    "HW-1",
		IsActive:      true,
	}
	svc.On("Activate", mock.Anything, "KQ2M4-ZX7BK-P3RD2-W9FH7",
		license.SystemInfo{HardwareID: "HW-1", Domain: "shop.example.com"}).
		Return(activation, nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/activate", map[string]any{
		"licenseKey": "KQ2M4-ZX7BK-P3RD2-W9FH7",
		"systemInfo": map[string]any{"hardware_id": "HW-1", "domain": "shop.example.com"},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var got license.Activation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "f1c7b9d2", got.ActivationKey)
	svc.AssertExpectations(t)
}

func TestActivateLicenseErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "malformed key", err: apperrors.ErrMalformedKey, wantStatus: http.StatusBadRequest, wantCode: apperrors.CodeMalformedKey},
		{name: "checksum mismatch", err: apperrors.ErrChecksumMismatch, wantStatus: http.StatusBadRequest, wantCode: apperrors.CodeChecksumMismatch},
		{name: "not found", err: apperrors.ErrLicenseNotFound, wantStatus: http.StatusNotFound, wantCode: apperrors.CodeLicenseNotFound},
		{name: "inactive", err: apperrors.ErrLicenseInactive, wantStatus: http.StatusForbidden, wantCode: apperrors.CodeLicenseInactive},
		{name: "expired", err: apperrors.ErrLicenseExpired, wantStatus: http.StatusForbidden, wantCode: apperrors.CodeLicenseExpired},
		{name: "binding failed", err: apperrors.ErrHardwareBindingFailed, wantStatus: http.StatusForbidden, wantCode: apperrors.CodeHardwareBindingFailed},
		{name: "limit reached", err: apperrors.ErrActivationLimitReached, wantStatus: http.StatusConflict, wantCode: apperrors.CodeActivationLimitReached},
		{name: "unexpected", err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError, wantCode: apperrors.CodePersistenceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockLicenseService)
			svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, tt.err)

			handler := newTestHandler(svc)
			rec := postJSON(t, handler.Routes(), "/activate", map[string]any{
				"licenseKey": "KQ2M4-ZX7BK-P3RD2-W9FH7",
				"systemInfo": map[string]any{"hardware_id": "HW-1"},
			})

			assert.Equal(t, tt.wantStatus, rec.Code)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.wantCode, problem["error_code"])
		})
	}
}

func TestDeactivateLicense(t *testing.T) {
	svc := new(mockLicenseService)
	svc.On("Deactivate", mock.Anything, "f1c7b9d2", "store closed").Return(nil)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/deactivate", map[string]any{
		"activationKey": "f1c7b9d2",
		"reason":        "store closed",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["deactivated"])
	svc.AssertExpectations(t)
}

func TestDeactivateNotFound(t *testing.T) {
	svc := new(mockLicenseService)
	svc.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.ErrActivationNotFound)

	handler := newTestHandler(svc)
	rec := postJSON(t, handler.Routes(), "/deactivate", map[string]any{
		"activationKey": "missing",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatus(t *testing.T) {
	svc := new(mockLicenseService)
	status := &services.LicenseStatusResponse{
		License: &license.License{
			ID:         "lic-1",
			LicenseKey: "KQ2M4-ZX7BK-P3RD2-W9FH7",
			Status:     license.StatusActive,
		},
		ActiveActivations: 2,
		VerificationScore: 95,
	}
	svc.On("GetStatus", mock.Anything, "KQ2M4-ZX7BK-P3RD2-W9FH7").Return(status, nil)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/KQ2M4-ZX7BK-P3RD2-W9FH7", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got services.LicenseStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.ActiveActivations)
	assert.Equal(t, 95, got.VerificationScore)
	svc.AssertExpectations(t)
}

func TestGetStatusNotFound(t *testing.T) {
	svc := new(mockLicenseService)
	svc.On("GetStatus", mock.Anything, mock.Anything).Return(nil, apperrors.ErrLicenseNotFound)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/AAAAA-AAAAA-AAAAA-AAAAA", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListActivations(t *testing.T) {
	svc := new(mockLicenseService)
	activations := []*license.Activation{
		{ID: "act-2", ActivationKey: "k2", IsActive: true},
		{ID: "act-1", ActivationKey: "k1", IsActive: false},
	}
	svc.On("Activations", mock.Anything, "KQ2M4-ZX7BK-P3RD2-W9FH7").Return(activations, nil)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/KQ2M4-ZX7BK-P3RD2-W9FH7/activations", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Activations []*license.Activation `json:"activations"`
		Count       int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "act-2", got.Activations[0].ID)
}

func TestListActivationsEmpty(t *testing.T) {
	svc := new(mockLicenseService)
	svc.On("Activations", mock.Anything, mock.Anything).
		Return([]*license.Activation(nil), nil)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/KQ2M4-ZX7BK-P3RD2-W9FH7/activations", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activations":[]`)
}

func TestListLicenses(t *testing.T) {
	svc := new(mockLicenseService)
	licenses := []*license.License{
		{ID: "lic-2", LicenseKey: "AAAAA-AAAAA-AAAAA-AAAAA"},
		{ID: "lic-1", LicenseKey: "KQ2M4-ZX7BK-P3RD2-W9FH7"},
	}
	svc.On("List", mock.Anything).Return(licenses, nil)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Licenses []*license.License `json:"licenses"`
		Count    int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "lic-2", got.Licenses[0].ID)
}

func TestStats(t *testing.T) {
	svc := new(mockLicenseService)
	stats := &services.StatsResponse{
		TotalLicenses: 3,
		ByStatus:      map[license.Status]int{license.StatusActive: 2, license.StatusExpired: 1},
		ByRiskLevel:   map[license.RiskLevel]int{license.RiskLow: 2, license.RiskHigh: 1},
	}
	svc.On("Stats", mock.Anything).Return(stats, nil)

	handler := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got services.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.TotalLicenses)
	assert.Equal(t, 2, got.ByStatus[license.StatusActive])
	svc.AssertExpectations(t)
}
