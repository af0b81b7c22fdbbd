// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the warranty
// service. It provides endpoints for expiry notifications and warranty claims
// with JWT authentication, structured errors, and event publishing.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/warrantypro/warranty-core-go/internal/ai"
	"github.com/warrantypro/warranty-core-go/internal/claims"
	"github.com/warrantypro/warranty-core-go/internal/config"
	errordefs "github.com/warrantypro/warranty-core-go/internal/errors"
	"github.com/warrantypro/warranty-core-go/internal/expiry"
	"github.com/warrantypro/warranty-core-go/internal/jwks"
	"github.com/warrantypro/warranty-core-go/internal/metrics"
	"github.com/warrantypro/warranty-core-go/internal/model"
	"github.com/warrantypro/warranty-core-go/internal/storage"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyOwnerID       ContextKey = "ownerId"       // Stores the owner ID from the JWT sub claim
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// Default limits for list operations
	DefaultListLimit = 50  // Default number of notifications to return
	MaxListLimit     = 200 // Maximum number of notifications to return
)

const tracerName = "warranty-service"

// Mux handles HTTP requests for the warranty service.
type Mux struct {
	mux        *http.ServeMux     // HTTP request multiplexer
	s          storage.Store      // Storage for warranties, notifications, and claims
	engine     *expiry.Engine     // Expiry notification engine
	claims     *claims.Controller // Claim workflow controller
	jwksClient *jwks.Client       // JWKS client for JWT validation
	metrics    *metrics.Metrics   // Metrics for monitoring

	jwtIssuer   string // Expected JWT issuer for validation
	jwtAudience string // Expected JWT audience for validation
	cronSecret  string // Shared secret for the scheduled check endpoint

	// CORS configuration
	corsAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// NewMux creates a new HTTP mux with all warranty service endpoints.
// A nil jwksClient builds one from the configured JWKS URL, falling back to
// the issuer's well-known path.
func NewMux(s storage.Store, engine *expiry.Engine, claimsCtrl *claims.Controller, cfg config.Config, jwksClient *jwks.Client) *http.ServeMux {
	if jwksClient == nil {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" {
			jwksURL = strings.TrimSuffix(cfg.JWTIssuer, "/") + "/.well-known/jwks.json"
		}
		jwksClient = jwks.NewClient(jwksURL)
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		s:                  s,
		engine:             engine,
		claims:             claimsCtrl,
		jwksClient:         jwksClient,
		metrics:            metrics.NewMetrics(),
		jwtIssuer:          cfg.JWTIssuer,
		jwtAudience:        cfg.JWTAudience,
		cronSecret:         cfg.CronSecret,
		corsAllowedOrigins: cfg.CORSAllowedOrigins,
	}

	// Register health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Notification endpoints
	m.mux.HandleFunc("/v1/notifications/runCheck", m.method("POST", m.withCronAuth(m.handleRunCheck)))
	m.mux.HandleFunc("/v1/notifications/sync", m.method("POST", m.withMiddleware(m.handleSyncNotifications)))
	m.mux.HandleFunc("/v1/notifications/unreadCount", m.method("GET", m.withMiddleware(m.handleUnreadCount)))
	m.mux.HandleFunc("/v1/notifications", m.method("GET", m.withMiddleware(m.handleListNotifications)))
	m.mux.HandleFunc("/v1/notifications/", m.method("POST", m.withMiddleware(m.handleMarkNotificationRead)))

	// Claim endpoints
	m.mux.HandleFunc("/v1/claims/start", m.method("POST", m.withMiddleware(m.handleStartClaim)))
	m.mux.HandleFunc("/v1/claims/diagnose", m.method("POST", m.withMiddleware(m.handleDiagnose)))
	m.mux.HandleFunc("/v1/claims/analyzeSeverity", m.method("POST", m.withMiddleware(m.handleAnalyzeSeverity)))
	m.mux.HandleFunc("/v1/claims/generateEmail", m.method("POST", m.withMiddleware(m.handleGenerateEmail)))
	m.mux.HandleFunc("/v1/claims", m.method("GET", m.withMiddleware(m.handleListClaims)))
	m.mux.HandleFunc("/v1/claims/", m.withMiddleware(m.handleClaimSubroutes))

	return m.mux
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && r.Method != http.MethodOptions {
			err := errordefs.New(errordefs.WTY_METHOD_NOT_ALLOWED, "method not allowed", "")
			m.writeErrorDef(w, err)
			return
		}
		h(w, r)
	}
}

// applyCORS sets CORS response headers and answers preflight requests.
// Returns true when the request was a preflight and has been handled.
func (m *Mux) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(m.corsAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := false
			for _, allowedOrigin := range m.corsAllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// withMiddleware applies CORS, correlation IDs, JWT authentication, request
// logging, and HTTP metrics to user-facing handlers.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if m.applyCORS(w, r) {
			return
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		ownerID, err := m.validateJWT(r)
		if err != nil {
			var errorDef *errordefs.Error
			if e, ok := err.(*errordefs.Error); ok {
				errorDef = e
				errorDef.CorrelationID = correlationID
			} else {
				errorDef = errordefs.New(errordefs.WTY_AUTHN, err.Error(), correlationID)
			}
			m.writeErrorDef(w, errorDef)
			m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, err)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyOwnerID, ownerID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		m.observeRequest(r, rec.status, time.Since(start))
		m.logRequest(r, rec.status, time.Since(start), correlationID, nil)
	}
}

// withCronAuth protects the scheduled check endpoint with the shared cron
// secret instead of a user JWT.
func (m *Mux) withCronAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if m.applyCORS(w, r) {
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if m.cronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.cronSecret)) != 1 {
			errorDef := errordefs.New(errordefs.WTY_AUTHN, "invalid cron secret", correlationID)
			m.writeErrorDef(w, errorDef)
			m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, errorDef)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		m.observeRequest(r, rec.status, time.Since(start))
		m.logRequest(r, rec.status, time.Since(start), correlationID, nil)
	}
}

// validateJWT validates a JWT and extracts the owner ID from the sub claim
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.WTY_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.WTY_AUTHN, "invalid Authorization header format", "")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.jwksClient.ValidateJWT(r.Context(), tokenString, m.jwtIssuer, m.jwtAudience)
	if err != nil {
		return "", errordefs.New(errordefs.WTY_AUTHN, "failed to validate JWT: "+err.Error(), "")
	}

	ownerID, ok := claims["sub"].(string)
	if !ok || ownerID == "" {
		return "", errordefs.New(errordefs.WTY_AUTHN, "missing or invalid sub claim", "")
	}
	return ownerID, nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response following the service error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":          string(err.Code),
			"message":       err.Message,
			"correlationId": err.CorrelationID,
		},
	}
	if err.Details != nil {
		response["error"].(map[string]interface{})["details"] = err.Details
	}
	_ = json.NewEncoder(w).Encode(response)
}

// mapError translates domain errors into the service error taxonomy.
func (m *Mux) mapError(err error, correlationID string) *errordefs.Error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errordefs.New(errordefs.WTY_NOT_FOUND, "not found", correlationID)
	case errors.Is(err, claims.ErrTerminalStatus), errors.Is(err, storage.ErrConflict):
		return errordefs.New(errordefs.WTY_CONFLICT, err.Error(), correlationID)
	case errors.Is(err, claims.ErrInvalidStatus):
		return errordefs.New(errordefs.WTY_VALIDATION, err.Error(), correlationID)
	case errors.Is(err, ai.ErrBadResponse):
		return errordefs.New(errordefs.WTY_GENERATION_FAILED, "email generation failed", correlationID)
	case errors.Is(err, ai.ErrUnavailable):
		return errordefs.New(errordefs.WTY_UPSTREAM_UNAVAILABLE, "assistant temporarily unavailable", correlationID)
	default:
		return errordefs.New(errordefs.WTY_INTERNAL, "internal error", correlationID)
	}
}

// missingFields walks (name, value) pairs and returns the names whose values
// are empty, preserving declaration order.
func missingFields(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}

// missingFieldsError builds a validation error naming the empty required
// fields in its details.
func missingFieldsError(correlationID string, fields []string) *errordefs.Error {
	return errordefs.NewWithDetails(errordefs.WTY_VALIDATION,
		"missing required fields: "+strings.Join(fields, ", "),
		correlationID,
		map[string][]string{"missingFields": fields})
}

func (m *Mux) observeRequest(r *http.Request, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": strconv.Itoa(status),
	}
	m.metrics.HTTPRequestTotal.With(labels).Inc()
	m.metrics.HTTPRequestDuration.With(labels).Observe(duration.Seconds())
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if ownerID, ok := r.Context().Value(ContextKeyOwnerID).(string); ok && ownerID != "" {
		attrs = append(attrs, slog.String("owner_id", ownerID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

func ownerIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyOwnerID).(string)
	return id
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A lookup that misses still proves the backing store is reachable.
	_, err := m.s.GetWarranty(ctx, "health-check", "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleRunCheck handles POST /v1/notifications/runCheck, the scheduled
// expiry sweep over all owners.
func (m *Mux) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleRunCheck")
	defer span.End()

	emitted, err := m.engine.Run(ctx, expiry.Scope{})
	if err != nil {
		span.SetStatus(codes.Error, "expiry run failed")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	span.SetAttributes(attribute.Int("emitted", emitted))
	m.writeSuccess(w, http.StatusOK, model.RunCheckResponse{Emitted: emitted})
}

// handleSyncNotifications handles POST /v1/notifications/sync, an on-demand
// expiry check scoped to the caller's own warranties.
func (m *Mux) handleSyncNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleSyncNotifications")
	defer span.End()

	emitted, err := m.engine.Run(ctx, expiry.Scope{OwnerID: ownerIDFrom(ctx)})
	if err != nil {
		span.SetStatus(codes.Error, "expiry run failed")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, model.RunCheckResponse{Emitted: emitted})
}

// handleListNotifications handles GET /v1/notifications
func (m *Mux) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleListNotifications")
	defer span.End()

	ownerID := ownerIDFrom(ctx)

	limit := DefaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			if v > 0 && v <= MaxListLimit {
				limit = v
			} else if v > MaxListLimit {
				limit = MaxListLimit
			}
		}
	}

	notifications, err := m.s.ListNotifications(ctx, ownerID, limit)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list notifications")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}
	unread, err := m.s.UnreadCount(ctx, ownerID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to count unread notifications")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, model.ListNotificationsResponse{
		Notifications: notifications,
		UnreadCount:   unread,
	})
}

// handleUnreadCount handles GET /v1/notifications/unreadCount
func (m *Mux) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := m.s.UnreadCount(ctx, ownerIDFrom(ctx))
	if err != nil {
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, model.UnreadCountResponse{Count: count})
}

// handleMarkNotificationRead handles POST /v1/notifications/{id}/read
func (m *Mux) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleMarkNotificationRead")
	defer span.End()

	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	notificationID, ok := strings.CutSuffix(path, "/read")
	if !ok || notificationID == "" || strings.Contains(notificationID, "/") {
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "notification id is required", correlationIDFrom(ctx)))
		return
	}
	span.SetAttributes(attribute.String("notificationId", notificationID))

	record, err := m.s.MarkNotificationRead(ctx, notificationID, ownerIDFrom(ctx), time.Now().UTC())
	if err != nil {
		span.SetStatus(codes.Error, "failed to mark notification read")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, record)
}

// handleStartClaim handles POST /v1/claims/start
func (m *Mux) handleStartClaim(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleStartClaim")
	defer span.End()
	defer r.Body.Close()

	var req model.StartClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if missing := missingFields("warrantyId", req.WarrantyID, "issueDescription", req.IssueDescription); len(missing) > 0 {
		m.writeErrorDef(w, missingFieldsError(correlationIDFrom(ctx), missing))
		return
	}
	span.SetAttributes(attribute.String("warrantyId", req.WarrantyID))

	claim, err := m.claims.Start(ctx, ownerIDFrom(ctx), req)
	if err != nil {
		span.SetStatus(codes.Error, "failed to start claim")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, claim)
}

// handleDiagnose handles POST /v1/claims/diagnose
func (m *Mux) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleDiagnose")
	defer span.End()
	defer r.Body.Close()

	var req model.DiagnosticTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if missing := missingFields("warrantyId", req.WarrantyID, "message", req.Message); len(missing) > 0 {
		m.writeErrorDef(w, missingFieldsError(correlationIDFrom(ctx), missing))
		return
	}

	resp, err := m.claims.DiagnosticTurn(ctx, ownerIDFrom(ctx), req)
	if err != nil {
		span.SetStatus(codes.Error, "diagnostic turn failed")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, resp)
}

// handleAnalyzeSeverity handles POST /v1/claims/analyzeSeverity
func (m *Mux) handleAnalyzeSeverity(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleAnalyzeSeverity")
	defer span.End()
	defer r.Body.Close()

	var req model.AnalyzeSeverityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if missing := missingFields("issueDescription", req.IssueDescription); len(missing) > 0 {
		m.writeErrorDef(w, missingFieldsError(correlationIDFrom(ctx), missing))
		return
	}

	// Severity analysis degrades instead of failing, so this never errors.
	verdict := m.claims.AnalyzeSeverity(ctx, req)
	m.writeSuccess(w, http.StatusOK, verdict)
}

// handleGenerateEmail handles POST /v1/claims/generateEmail
func (m *Mux) handleGenerateEmail(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleGenerateEmail")
	defer span.End()
	defer r.Body.Close()

	var req model.GenerateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if missing := missingFields("warrantyId", req.WarrantyID, "issueDescription", req.IssueDescription); len(missing) > 0 {
		m.writeErrorDef(w, missingFieldsError(correlationIDFrom(ctx), missing))
		return
	}

	artifact, err := m.claims.GenerateEmail(ctx, ownerIDFrom(ctx), req)
	if err != nil {
		span.SetStatus(codes.Error, "email generation failed")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, artifact)
}

// handleListClaims handles GET /v1/claims
func (m *Mux) handleListClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := model.ListClaimsQuery{
		OwnerID:    ownerIDFrom(ctx),
		WarrantyID: r.URL.Query().Get("warrantyId"),
		Status:     model.ClaimStatus(r.URL.Query().Get("status")),
	}

	result, err := m.claims.List(ctx, query)
	if err != nil {
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, result)
}

// handleClaimSubroutes dispatches /v1/claims/{id} and its sub-resources:
//
//	GET    /v1/claims/{id}
//	DELETE /v1/claims/{id}
//	POST   /v1/claims/{id}/submit
//	POST   /v1/claims/{id}/status
func (m *Mux) handleClaimSubroutes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path := strings.TrimPrefix(r.URL.Path, "/v1/claims/")
	claimID, action, _ := strings.Cut(path, "/")
	if claimID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "claim id is required", correlationIDFrom(ctx)))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		m.handleGetClaim(w, r, claimID)
	case action == "" && r.Method == http.MethodDelete:
		m.handleDeleteClaim(w, r, claimID)
	case action == "submit" && r.Method == http.MethodPost:
		m.handleSubmitClaim(w, r, claimID)
	case action == "status" && r.Method == http.MethodPost:
		m.handleUpdateClaimStatus(w, r, claimID)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_METHOD_NOT_ALLOWED, "method not allowed", correlationIDFrom(ctx)))
	}
}

func (m *Mux) handleGetClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx := r.Context()

	claim, err := m.claims.Get(ctx, claimID, ownerIDFrom(ctx))
	if err != nil {
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, claim)
}

func (m *Mux) handleDeleteClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleDeleteClaim")
	defer span.End()
	span.SetAttributes(attribute.String("claimId", claimID))

	if err := m.claims.Delete(ctx, claimID, ownerIDFrom(ctx)); err != nil {
		span.SetStatus(codes.Error, "failed to delete claim")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleSubmitClaim handles POST /v1/claims/{id}/submit. Delivery failure is
// reported inside the response body, never as an HTTP error.
func (m *Mux) handleSubmitClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleSubmitClaim")
	defer span.End()
	defer r.Body.Close()
	span.SetAttributes(attribute.String("claimId", claimID))

	var req model.SubmitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if missing := missingFields("subject", req.Subject, "body", req.Body); len(missing) > 0 {
		m.writeErrorDef(w, missingFieldsError(correlationIDFrom(ctx), missing))
		return
	}

	resp, err := m.claims.Submit(ctx, claimID, ownerIDFrom(ctx), req)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit claim")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	span.SetAttributes(attribute.Bool("delivered", resp.Delivery.Sent))
	m.writeSuccess(w, http.StatusOK, resp)
}

func (m *Mux) handleUpdateClaimStatus(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleUpdateClaimStatus")
	defer span.End()
	defer r.Body.Close()
	span.SetAttributes(attribute.String("claimId", claimID))

	var req model.UpdateClaimStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "invalid JSON", correlationIDFrom(ctx)))
		return
	}
	if req.Status == "" && req.Notes == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.WTY_VALIDATION, "status or notes is required", correlationIDFrom(ctx)))
		return
	}

	claim, err := m.claims.UpdateStatus(ctx, claimID, ownerIDFrom(ctx), req)
	if err != nil {
		span.SetStatus(codes.Error, "failed to update claim status")
		m.writeErrorDef(w, m.mapError(err, correlationIDFrom(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, claim)
}
