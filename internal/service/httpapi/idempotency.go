package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

// withIdempotency оборачивает мутацию кэшированием ответа по Idempotency-Key.
// Без заголовка (или без репозитория) запрос обрабатывается напрямую.
// Повтор с тем же ключом и телом возвращает кэшированный ответ; повтор
// с другим телом — конфликт.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, body []byte, handler func() (int, interface{})) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if s.idemRepo == nil || key == "" {
		code, payload := handler()
		s.respond(w, code, payload)
		return
	}

	reqHash := buildRequestHash(r.Method, r.URL.Path, body)

	record, err := s.idemRepo.CreateProcessing(key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		s.replayIdempotency(w, key, err, record)
		return
	}

	code, payload := handler()

	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		s.logger.WithError(marshalErr).WithField("idempotency_key", key).Warn("failed to encode idempotency cache payload")
		data = nil
	}

	var cacheErr error
	if code >= http.StatusBadRequest {
		cacheErr = s.idemRepo.MarkFailed(key, data, code)
	} else {
		cacheErr = s.idemRepo.MarkDone(key, data, code)
	}
	if cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", key).Warn("failed to store idempotency response")
	}

	s.respond(w, code, payload)
}

// replayIdempotency обрабатывает повторное использование ключа.
func (s *Server) replayIdempotency(w http.ResponseWriter, key string, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		s.respond(w, http.StatusConflict, errorResponse{Error: "idempotency key is already used with a different request payload"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			s.writeCached(w, record)
		case domain.IdempotencyStatusProcessing:
			s.respond(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		default:
			s.respond(w, http.StatusInternalServerError, errorResponse{Error: "unknown idempotency record status"})
		}
	default:
		s.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		s.respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

// writeCached отдаёт сохранённый ответ как есть.
func (s *Server) writeCached(w http.ResponseWriter, record domain.IdempotencyRecord) {
	code := record.HTTPStatus
	if code == 0 {
		code = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if len(record.ResponseBody) > 0 {
		if _, err := w.Write(record.ResponseBody); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to write cached response")
		}
	}
}

func buildRequestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
