// Package services provides the business logic between the HTTP transport
// and the store. Services own workflow ordering and side effects; scoring
// and validation rules live in internal/license.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "salespoint/internal/errors"
	"salespoint/internal/license"
)

// maxKeyGenerationAttempts bounds the retry loop against key collisions.
// With 36^16 possible keys a collision is vanishingly rare; hitting the cap
// signals a broken random source or a corrupt key column.
const maxKeyGenerationAttempts = 100

// trialValidityDays is the expiry window applied to trial licenses when the
// request does not set one explicitly.
const trialValidityDays = 14

// Repository is the persistence surface the service needs. *store.Store
// satisfies it; tests substitute a mock.
type Repository interface {
	CreateLicense(ctx context.Context, l *license.License) error
	GetLicenseByKey(ctx context.Context, key string) (*license.License, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	UpdateLicenseStatus(ctx context.Context, id string, status license.Status) error
	TouchLastVerified(ctx context.Context, id string, at time.Time) error
	CreateActivation(ctx context.Context, a *license.Activation) error
	DeactivateActivation(ctx context.Context, activationKey, reason string, at time.Time) error
	GetActivationByKey(ctx context.Context, activationKey string) (*license.Activation, error)
	ActivationsByLicense(ctx context.Context, licenseID string) ([]*license.Activation, error)
	CountActiveActivations(ctx context.Context, licenseID string) (int, error)
	ListLicenses(ctx context.Context) ([]*license.License, error)
	CountLicensesByStatus(ctx context.Context) (map[license.Status]int, error)
	LatestPayment(ctx context.Context, licenseID string) (*time.Time, error)
}

// LicenseService provides business logic for license operations.
type LicenseService interface {
	Create(ctx context.Context, req CreateLicenseRequest) (*license.License, error)
	Verify(ctx context.Context, key string, sys *license.SystemInfo) (*license.VerificationResult, error)
	Activate(ctx context.Context, key string, sys license.SystemInfo) (*license.Activation, error)
	Deactivate(ctx context.Context, activationKey, reason string) error
	GetStatus(ctx context.Context, key string) (*LicenseStatusResponse, error)
	Activations(ctx context.Context, key string) ([]*license.Activation, error)
	List(ctx context.Context) ([]*license.License, error)
	Stats(ctx context.Context) (*StatsResponse, error)
}

// CreateLicenseRequest carries the parameters for issuing a new license.
type CreateLicenseRequest struct {
	Type           license.LicenseType
	ClientName     string
	ClientEmail    string
	MaxUsers       int
	MaxStores      int
	MaxActivations int
	ValidityDays   int
	AllowedDomains []string
	Binding        *license.HardwareBinding
	Notes          string
}

// LicenseStatusResponse aggregates a license record with its derived health
// signals for the status endpoint.
type LicenseStatusResponse struct {
	License           *license.License       `json:"license"`
	ActiveActivations int                    `json:"active_activations"`
	Risk              license.RiskAssessment `json:"risk"`
	VerificationScore int                    `json:"verification_score"`
	Timestamp         time.Time              `json:"timestamp"`
}

// StatsResponse summarizes the license population for administrative triage.
type StatsResponse struct {
	TotalLicenses int                       `json:"total_licenses"`
	ByStatus      map[license.Status]int    `json:"by_status"`
	ByRiskLevel   map[license.RiskLevel]int `json:"by_risk_level"`
	Timestamp     time.Time                 `json:"timestamp"`
}

type licenseService struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewLicenseService creates a license service on top of a repository.
func NewLicenseService(repo Repository, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		repo:   repo,
		logger: logger.With(slog.String("service", "license")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create issues a new license with a freshly generated key. Key generation
// retries on collision against already-issued keys.
func (s *licenseService) Create(ctx context.Context, req CreateLicenseRequest) (*license.License, error) {
	now := s.now()

	key, err := s.generateUniqueKey(ctx)
	if err != nil {
		return nil, err
	}

	l := &license.License{
		ID:             uuid.NewString(),
		LicenseKey:     key,
		Type:           req.Type,
		Status:         license.StatusActive,
		ClientName:     req.ClientName,
		ClientEmail:    req.ClientEmail,
		MaxUsers:       req.MaxUsers,
		MaxStores:      req.MaxStores,
		MaxActivations: req.MaxActivations,
		IssuedAt:       now,
		ExpiresAt:      expiryFor(req.Type, req.ValidityDays, now),
		AllowedDomains: req.AllowedDomains,
		Binding:        req.Binding,
		Notes:          req.Notes,
	}

	if err := s.repo.CreateLicense(ctx, l); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license issued",
		slog.String("operation", "create"),
		slog.String("license_id", l.ID),
		slog.String("license_key_masked", license.MaskKey(l.LicenseKey)),
		slog.String("type", string(l.Type)),
		slog.Int("max_activations", l.MaxActivations),
	)
	return l, nil
}

func (s *licenseService) generateUniqueKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxKeyGenerationAttempts; attempt++ {
		key, err := license.GenerateKey()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.KeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
		s.logger.WarnContext(ctx, "generated key collided with issued key",
			slog.Int("attempt", attempt+1),
		)
	}
	return "", apperrors.ErrDuplicateKeyGeneration
}

// expiryFor derives the expiry from the validity override or the license
// type's default term. Lifetime licenses never expire.
func expiryFor(typ license.LicenseType, validityDays int, issued time.Time) *time.Time {
	if validityDays > 0 {
		t := issued.AddDate(0, 0, validityDays)
		return &t
	}
	switch typ {
	case license.TypeMonthly:
		t := issued.AddDate(0, 1, 0)
		return &t
	case license.TypeYearly:
		t := issued.AddDate(1, 0, 0)
		return &t
	case license.TypeTrial:
		t := issued.AddDate(0, 0, trialValidityDays)
		return &t
	default:
		return nil
	}
}

// Verify runs the full verification pipeline for a key. Invalid licenses are
// reported in the result, not as errors; errors mean the verification itself
// could not run (unknown key, store failure).
//
// Verifying has two side effects on the stored license: an active license
// found past its expiry is transitioned to expired, and the last-verified
// timestamp is stamped.
func (s *licenseService) Verify(ctx context.Context, key string, sys *license.SystemInfo) (*license.VerificationResult, error) {
	now := s.now()
	key = license.NormalizeKey(key)
	keyValidation := license.ValidateKey(key)

	// Structurally broken keys can never match an issued license, so the
	// pipeline runs without a lookup.
	if !keyValidation.FormatOK {
		result := license.VerifyLicense(&license.License{Status: license.StatusActive}, sys, keyValidation, now)
		return &result, nil
	}

	l, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.transitionIfExpired(ctx, l, now); err != nil {
		return nil, err
	}

	// Score against the record as it stood before this verification; a
	// stale last-verified timestamp must surface in this response, so the
	// stamp happens only after scoring.
	result := license.VerifyLicense(l, sys, keyValidation, now)

	// The pipeline scores risk without payment history; fold it in here
	// where the store is available.
	lastPayment, err := s.repo.LatestPayment(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	result.RiskLevel = license.AssessRisk(l, lastPayment, now).Level

	if err := s.repo.TouchLastVerified(ctx, l.ID, now); err != nil {
		return nil, err
	}
	l.LastVerifiedAt = &now

	s.logger.InfoContext(ctx, "license verified",
		slog.String("operation", "verify"),
		slog.String("license_key_masked", license.MaskKey(key)),
		slog.Bool("is_valid", result.IsValid),
		slog.Int("confidence", result.Confidence),
		slog.String("risk_level", string(result.RiskLevel)),
	)
	return &result, nil
}

// transitionIfExpired lazily flips an active license past its expiry to the
// expired status, in the store and on the in-memory record.
func (s *licenseService) transitionIfExpired(ctx context.Context, l *license.License, now time.Time) error {
	if l.Status != license.StatusActive || !l.IsExpired(now) {
		return nil
	}
	if err := s.repo.UpdateLicenseStatus(ctx, l.ID, license.StatusExpired); err != nil {
		return err
	}
	l.Status = license.StatusExpired
	s.logger.InfoContext(ctx, "license transitioned to expired",
		slog.String("license_id", l.ID),
	)
	return nil
}

// Activate binds a system to a license. Checks run in a fixed order so
// callers get the most specific failure: existence, key validity, status,
// expiry, activation limit, then hardware binding. The limit precheck is
// advisory ordering only; the store re-enforces it atomically on insert.
func (s *licenseService) Activate(ctx context.Context, key string, sys license.SystemInfo) (*license.Activation, error) {
	now := s.now()
	key = license.NormalizeKey(key)

	l, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	keyValidation := license.ValidateKey(key)
	if !keyValidation.FormatOK {
		return nil, apperrors.ErrMalformedKey
	}
	if !keyValidation.IsValid {
		return nil, apperrors.ErrChecksumMismatch
	}

	if l.Status == license.StatusSuspended || l.Status == license.StatusCancelled {
		return nil, apperrors.ErrLicenseInactive
	}
	if err := s.transitionIfExpired(ctx, l, now); err != nil {
		return nil, err
	}
	if l.Status == license.StatusExpired {
		return nil, apperrors.ErrLicenseExpired
	}

	if l.MaxActivations > 0 && l.ActivationCount >= l.MaxActivations {
		return nil, apperrors.ErrActivationLimitReached
	}

	if !license.CheckBinding(l, sys) {
		s.logger.WarnContext(ctx, "activation rejected by hardware binding",
			slog.String("license_key_masked", license.MaskKey(key)),
			slog.String("domain", sys.Domain),
			slog.String("hardware_id", sys.HardwareID),
		)
		return nil, apperrors.ErrHardwareBindingFailed
	}

	a := &license.Activation{
		ID:            uuid.NewString(),
		ActivationKey: uuid.NewString(),
		LicenseID:     l.ID,
		Domain:        sys.Domain,
		HardwareID:    sys.HardwareID,
		IPAddress:     sys.IPAddress,
		IsActive:      true,
		ActivatedAt:   now,
	}
	if err := s.repo.CreateActivation(ctx, a); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activated",
		slog.String("operation", "activate"),
		slog.String("license_id", l.ID),
		slog.String("license_key_masked", license.MaskKey(key)),
		slog.String("activation_id", a.ID),
		slog.String("domain", sys.Domain),
	)
	return a, nil
}

// Deactivate releases an activation with an audit reason. The license's
// cumulative activation counter is unaffected.
func (s *licenseService) Deactivate(ctx context.Context, activationKey, reason string) error {
	now := s.now()
	if err := s.repo.DeactivateActivation(ctx, activationKey, reason, now); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "activation released",
		slog.String("operation", "deactivate"),
		slog.String("activation_key", activationKey),
		slog.String("reason", reason),
	)
	return nil
}

// GetStatus returns a license record with its derived risk and health
// signals.
func (s *licenseService) GetStatus(ctx context.Context, key string) (*LicenseStatusResponse, error) {
	now := s.now()
	key = license.NormalizeKey(key)

	l, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.transitionIfExpired(ctx, l, now); err != nil {
		return nil, err
	}

	active, err := s.repo.CountActiveActivations(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	lastPayment, err := s.repo.LatestPayment(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	return &LicenseStatusResponse{
		License:           l,
		ActiveActivations: active,
		Risk:              license.AssessRisk(l, lastPayment, now),
		VerificationScore: license.VerificationScore(l, now),
		Timestamp:         now,
	}, nil
}

// Activations lists all activation rows for a license, newest first.
func (s *licenseService) Activations(ctx context.Context, key string) ([]*license.Activation, error) {
	l, err := s.repo.GetLicenseByKey(ctx, license.NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	return s.repo.ActivationsByLicense(ctx, l.ID)
}

// List returns all licenses, newest first.
func (s *licenseService) List(ctx context.Context) ([]*license.License, error) {
	return s.repo.ListLicenses(ctx)
}

// statsRiskConcurrency bounds the per-license risk recompute fan-out.
const statsRiskConcurrency = 8

// Stats summarizes the license population. Risk is recomputed per license
// with a bounded fan-out; payment lookups dominate the cost.
func (s *licenseService) Stats(ctx context.Context) (*StatsResponse, error) {
	now := s.now()

	byStatus, err := s.repo.CountLicensesByStatus(ctx)
	if err != nil {
		return nil, err
	}

	licenses, err := s.repo.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}

	levels := make([]license.RiskLevel, len(licenses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsRiskConcurrency)
	for i, l := range licenses {
		g.Go(func() error {
			lastPayment, err := s.repo.LatestPayment(gctx, l.ID)
			if err != nil {
				return err
			}
			levels[i] = license.AssessRisk(l, lastPayment, now).Level
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byRisk := make(map[license.RiskLevel]int)
	for _, level := range levels {
		byRisk[level]++
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	return &StatsResponse{
		TotalLicenses: total,
		ByStatus:      byStatus,
		ByRiskLevel:   byRisk,
		Timestamp:     now,
	}, nil
}
