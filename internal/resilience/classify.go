package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
)

// Classifier maps an operation error onto a retry class.
type Classifier func(err error) Class

// StatusError is returned by HTTP clients for non-2xx responses so the
// classifier can act on the status code and Retry-After hint.
type StatusError struct {
	Operation  string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// ClassForStatus maps an HTTP status code onto a class.
func ClassForStatus(status int) Class {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassAuthentication
	case status == http.StatusPaymentRequired:
		return ClassQuotaExceeded
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServerError
	case status >= 400:
		return ClassValidation
	}
	return ClassUnknown
}

// DefaultClassifier handles outbound HTTP, platform and datastore errors.
func DefaultClassifier(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		// OpenAI-compatible APIs report exhausted billing quota as a 429.
		if statusErr.StatusCode == http.StatusTooManyRequests && strings.Contains(statusErr.Body, "insufficient_quota") {
			return ClassQuotaExceeded
		}
		return ClassForStatus(statusErr.StatusCode)
	}

	if typed := pkgerrors.As(err); typed != nil {
		if class, ok := classForCode(typed.Code()); ok {
			return class
		}
	}

	if class, ok := classifyDatastore(err); ok {
		return class
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ClassNetwork
	}

	return classifyMessage(err.Error())
}

// DatastoreClassifier is used around database work. Driver errors take
// precedence; anything it cannot place falls back to DefaultClassifier.
func DatastoreClassifier(err error) Class {
	if class, ok := classifyDatastore(err); ok {
		return class
	}
	return DefaultClassifier(err)
}

func classForCode(code pkgerrors.Code) (Class, bool) {
	switch code {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict, pkgerrors.CodeIdempotency, pkgerrors.CodeInsufficientCredits:
		return ClassValidation, true
	case pkgerrors.CodeUnauthorized, pkgerrors.CodeForbidden:
		return ClassAuthentication, true
	case pkgerrors.CodeRateLimit:
		return ClassRateLimit, true
	case pkgerrors.CodeQuotaExceeded:
		return ClassQuotaExceeded, true
	case pkgerrors.CodeDependency:
		return ClassServerError, true
	}
	return "", false
}

func classifyDatastore(err error) (Class, bool) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClassValidation, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return ClassNetwork, true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return ClassServerError, true
		case pgErr.Code == "57014":
			return ClassTimeout, true
		case strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "22"):
			return ClassValidation, true
		case strings.HasPrefix(pgErr.Code, "53"):
			return ClassServerError, true
		}
		return ClassUnknown, true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ClassNetwork, true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return ClassServerError, true
	}
	return "", false
}

func classifyMessage(raw string) Class {
	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "quota"):
		return ClassQuotaExceeded
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ClassRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "no such host"):
		return ClassNetwork
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"):
		return ClassAuthentication
	}
	return ClassUnknown
}
