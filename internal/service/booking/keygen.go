package booking

import (
	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

// uuidKeyGenerator выдаёт случайные uuid в качестве idempotency-ключей.
type uuidKeyGenerator struct{}

// NewUUIDKeyGenerator возвращает генератор ключей на основе uuid v4.
func NewUUIDKeyGenerator() domain.KeyGenerator {
	return uuidKeyGenerator{}
}

func (uuidKeyGenerator) NewKey() string {
	return uuid.NewString()
}

var _ domain.KeyGenerator = uuidKeyGenerator{}
