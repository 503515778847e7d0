// Package http provides the HTTP transport: request decoding, validation,
// span instrumentation and RFC 7807 error responses over the license
// service.
package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "salespoint/internal/errors"
	"salespoint/internal/infrastructure"
	"salespoint/internal/license"
	"salespoint/internal/middleware"
	"salespoint/internal/services"
)

// LicenseHandler serves the license API.
type LicenseHandler struct {
	service  services.LicenseService
	logger   *slog.Logger
	metrics  *infrastructure.LicenseMetrics
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewLicenseHandler creates a license handler. metrics may be nil when
// metric export is disabled.
func NewLicenseHandler(service services.LicenseService, metrics *infrastructure.LicenseMetrics, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "license")),
		metrics:  metrics,
		validate: validator.New(),
		tracer:   otel.Tracer("license-handler"),
	}
}

// Routes returns the chi router for the license endpoints, mounted under
// /api/licenses.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/verify", h.Verify)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/stats", h.Stats)
	r.Get("/{key}", h.GetStatus)
	r.Get("/{key}/activations", h.Activations)

	return r
}

// CreateLicenseRequest is the body for POST /api/licenses.
type CreateLicenseRequest struct {
	Type           string                   `json:"type" validate:"required,oneof=lifetime monthly yearly trial"`
	ClientName     string                   `json:"client_name" validate:"required,max=200"`
	ClientEmail    string                   `json:"client_email" validate:"omitempty,email"`
	MaxUsers       int                      `json:"max_users" validate:"min=0"`
	MaxStores      int                      `json:"max_stores" validate:"min=0"`
	MaxActivations int                      `json:"max_activations" validate:"min=0"`
	ValidityDays   int                      `json:"validity_days" validate:"min=0"`
	AllowedDomains []string                 `json:"allowed_domains"`
	Binding        *license.HardwareBinding `json:"hardware_binding"`
	Notes          string                   `json:"notes" validate:"max=2000"`
}

// CreateLicenseResponse returns the issued license with the validation and
// risk view of the freshly minted key.
type CreateLicenseResponse struct {
	License       *license.License       `json:"license"`
	KeyValidation license.KeyValidation  `json:"key_validation"`
	Risk          license.RiskAssessment `json:"risk"`
}

// SystemInfoRequest carries the requesting system's fingerprint.
type SystemInfoRequest struct {
	HardwareID string `json:"hardware_id" validate:"max=200"`
	Domain     string `json:"domain" validate:"max=253"`
	IPAddress  string `json:"ip_address" validate:"omitempty,ip"`
}

func (s *SystemInfoRequest) toDomain() license.SystemInfo {
	return license.SystemInfo{
		HardwareID: s.HardwareID,
		Domain:     s.Domain,
		IPAddress:  s.IPAddress,
	}
}

// VerifyRequest is the body for POST /api/licenses/verify.
type VerifyRequest struct {
	LicenseKey     string             `json:"licenseKey" validate:"required,max=64"`
	SystemInfo     *SystemInfoRequest `json:"systemInfo"`
	IncludeDetails bool               `json:"includeDetails"`
	GenerateReport bool               `json:"generateReport"`
}

// VerifyResponse wraps the verification result, optionally with the license
// snapshot and a human-readable report.
type VerifyResponse struct {
	license.VerificationResult
	Details *services.LicenseStatusResponse `json:"details,omitempty"`
	Report  string                          `json:"report,omitempty"`
}

// ActivateRequest is the body for POST /api/licenses/activate. ClientEmail is
// carried for the audit log only; binding decisions use systemInfo.
type ActivateRequest struct {
	LicenseKey  string            `json:"licenseKey" validate:"required,max=64"`
	ClientEmail string            `json:"clientEmail" validate:"omitempty,email"`
	SystemInfo  SystemInfoRequest `json:"systemInfo"`
}

// DeactivateRequest is the body for POST /api/licenses/deactivate.
type DeactivateRequest struct {
	ActivationKey string `json:"activationKey" validate:"required,max=64"`
	Reason        string `json:"reason" validate:"max=500"`
}

// Create handles POST /api/licenses.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.create")
	defer span.End()
	// render.Status mutates the request's context in place, so the span
	// context has to be attached before it, not when rendering.
	r = r.WithContext(ctx)

	var req CreateLicenseRequest
	if problem := h.decodeAndValidate(r, &req); problem != nil {
		apperrors.RenderProblem(w, problem)
		return
	}

	issued, err := h.service.Create(ctx, services.CreateLicenseRequest{
		Type:           license.LicenseType(req.Type),
		ClientName:     req.ClientName,
		ClientEmail:    req.ClientEmail,
		MaxUsers:       req.MaxUsers,
		MaxStores:      req.MaxStores,
		MaxActivations: req.MaxActivations,
		ValidityDays:   req.ValidityDays,
		AllowedDomains: req.AllowedDomains,
		Binding:        req.Binding,
		Notes:          req.Notes,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.LicensesIssued.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", req.Type)))
	}
	span.SetAttributes(attribute.String("license.id", issued.ID))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateLicenseResponse{
		License:       issued,
		KeyValidation: license.ValidateKey(issued.LicenseKey),
		Risk:          license.AssessRisk(issued, nil, time.Now().UTC()),
	})
}

// Verify handles POST /api/licenses/verify.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "license_handler.verify")
	defer span.End()

	var req VerifyRequest
	if problem := h.decodeAndValidate(r, &req); problem != nil {
		apperrors.RenderProblem(w, problem)
		return
	}
	span.SetAttributes(attribute.String("license.key_masked", license.MaskKey(req.LicenseKey)))

	var sys *license.SystemInfo
	if req.SystemInfo != nil {
		s := req.SystemInfo.toDomain()
		sys = &s
	}

	result, err := h.service.Verify(ctx, req.LicenseKey, sys)
	if h.metrics != nil {
		h.metrics.VerificationChecks.Add(ctx, 1)
		h.metrics.VerificationDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil || !result.IsValid {
			h.metrics.VerificationFailures.Add(ctx, 1)
		}
	}
	if err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}
	span.SetAttributes(
		attribute.Bool("license.is_valid", result.IsValid),
		attribute.Int("license.confidence", result.Confidence),
	)

	resp := VerifyResponse{VerificationResult: *result}
	if req.IncludeDetails {
		details, err := h.service.GetStatus(ctx, req.LicenseKey)
		if err == nil {
			resp.Details = details
		}
	}
	if req.GenerateReport {
		resp.Report = verificationReport(req.LicenseKey, result)
	}

	render.JSON(w, r.WithContext(ctx), resp)
}

// Activate handles POST /api/licenses/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate")
	defer span.End()
	// render.Status mutates the request's context in place, so the span
	// context has to be attached before it, not when rendering.
	r = r.WithContext(ctx)

	var req ActivateRequest
	if problem := h.decodeAndValidate(r, &req); problem != nil {
		apperrors.RenderProblem(w, problem)
		return
	}
	span.SetAttributes(
		attribute.String("license.key_masked", license.MaskKey(req.LicenseKey)),
		attribute.String("system.domain", req.SystemInfo.Domain),
	)
	if req.ClientEmail != "" {
		span.SetAttributes(attribute.String("client.email", req.ClientEmail))
	}

	if h.metrics != nil {
		h.metrics.ActivationAttempts.Add(ctx, 1)
	}

	activation, err := h.service.Activate(ctx, req.LicenseKey, req.SystemInfo.toDomain())
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.renderError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ActivationSuccess.Add(ctx, 1)
		h.metrics.ActivationDuration.Record(ctx, time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.String("activation.id", activation.ID))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, activation)
}

// Deactivate handles POST /api/licenses/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.deactivate")
	defer span.End()

	var req DeactivateRequest
	if problem := h.decodeAndValidate(r, &req); problem != nil {
		apperrors.RenderProblem(w, problem)
		return
	}

	if err := h.service.Deactivate(ctx, req.ActivationKey, req.Reason); err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}

	if h.metrics != nil {
		h.metrics.Deactivations.Add(ctx, 1)
	}

	render.JSON(w, r.WithContext(ctx), map[string]any{
		"deactivated":    true,
		"activation_key": req.ActivationKey,
	})
}

// GetStatus handles GET /api/licenses/{key}.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.get_status")
	defer span.End()

	key := chi.URLParam(r, "key")
	span.SetAttributes(attribute.String("license.key_masked", license.MaskKey(key)))

	resp, err := h.service.GetStatus(ctx, key)
	if err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}

	render.JSON(w, r.WithContext(ctx), resp)
}

// Activations handles GET /api/licenses/{key}/activations.
func (h *LicenseHandler) Activations(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activations")
	defer span.End()

	key := chi.URLParam(r, "key")
	span.SetAttributes(attribute.String("license.key_masked", license.MaskKey(key)))

	activations, err := h.service.Activations(ctx, key)
	if err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}
	if activations == nil {
		activations = []*license.Activation{}
	}

	render.JSON(w, r.WithContext(ctx), map[string]any{
		"activations": activations,
		"count":       len(activations),
	})
}

// List handles GET /api/licenses.
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.list")
	defer span.End()

	licenses, err := h.service.List(ctx)
	if err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}
	if licenses == nil {
		licenses = []*license.License{}
	}
	span.SetAttributes(attribute.Int("licenses.count", len(licenses)))

	render.JSON(w, r.WithContext(ctx), map[string]any{
		"licenses": licenses,
		"count":    len(licenses),
	})
}

// Stats handles GET /api/licenses/stats.
func (h *LicenseHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.stats")
	defer span.End()

	resp, err := h.service.Stats(ctx)
	if err != nil {
		h.renderError(w, r.WithContext(ctx), err)
		return
	}
	span.SetAttributes(attribute.Int("licenses.total", resp.TotalLicenses))

	render.JSON(w, r.WithContext(ctx), resp)
}

// decodeAndValidate decodes the JSON body into req and validates it,
// returning a 400 problem on failure.
func (h *LicenseHandler) decodeAndValidate(r *http.Request, req any) *apperrors.ProblemDetails {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	if err := render.Decode(r, req); err != nil {
		h.logger.WarnContext(ctx, "request body decode failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return apperrors.InvalidRequest("Request body must be valid JSON.", r.URL.Path, traceID)
	}

	if err := h.validate.Struct(req); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
		}
		h.logger.WarnContext(ctx, "request validation failed",
			slog.String("path", r.URL.Path),
			slog.String("fields", strings.Join(fields, ", ")),
		)
		detail := "Request validation failed."
		if len(fields) > 0 {
			detail = "Request validation failed: " + strings.Join(fields, ", ") + "."
		}
		return apperrors.InvalidRequest(detail, r.URL.Path, traceID)
	}
	return nil
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	h.logger.ErrorContext(ctx, "license operation failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apperrors.RenderProblem(w, apperrors.MapLicenseError(err, traceID))
}

// verificationReport renders a short human-readable summary of a result.
func verificationReport(key string, result *license.VerificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "License %s: ", license.MaskKey(license.NormalizeKey(key)))
	if result.IsValid {
		b.WriteString("VALID")
	} else {
		b.WriteString("INVALID")
	}
	fmt.Fprintf(&b, " (confidence %d, risk %s, score %d)", result.Confidence, result.RiskLevel, result.VerificationScore)
	if len(result.Issues) > 0 {
		fmt.Fprintf(&b, "; issues: %s", strings.Join(result.Issues, "; "))
	}
	if len(result.Recommendations) > 0 {
		fmt.Fprintf(&b, "; recommended: %s", strings.Join(result.Recommendations, "; "))
	}
	return b.String()
}
