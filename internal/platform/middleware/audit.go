package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/auth"
)

// AuditEntry records one access to patient data.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	RecordID   string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedResources are the first path segments under /api/v1 that expose
// patient data.
var auditedResources = map[string]bool{
	"patients":    true,
	"anamneses":   true,
	"history":     true,
	"attachments": true,
	"drafts":      true,
}

// Audit logs every access to a patient-data route after the handler ran,
// and hands the entry to the optional recorder.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			segments := apiSegments(req.URL.Path)
			if len(segments) == 0 || !auditedResources[segments[0]] {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   segments[0],
				Action:     methodAction(req.Method),
				IPAddress:  c.RealIP(),
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			if len(segments) > 1 && isUUID(segments[1]) {
				entry.RecordID = segments[1]
				if segments[0] == "patients" {
					entry.PatientID = segments[1]
				}
			}
			if pid := c.QueryParam("patient_id"); pid != "" && isUUID(pid) {
				entry.PatientID = pid
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.IPAddress).
				Msg("phi_access")

			return err
		}
	}
}

func apiSegments(path string) []string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok || rest == "" {
		return nil
	}
	return strings.Split(strings.Trim(rest, "/"), "/")
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
