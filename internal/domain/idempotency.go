package domain

import "time"

// IdempotencyStatus — жизненный цикл записи idempotency-key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят, ответ ещё не сохранён.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — запрос завершён, кэшированный ответ доступен для replay.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — запрос завершился ошибкой; ошибка тоже кэшируется.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

var knownIdempotencyStatuses = map[IdempotencyStatus]struct{}{
	IdempotencyStatusProcessing: {},
	IdempotencyStatusDone:       {},
	IdempotencyStatusFailed:     {},
}

// Valid проверяет принадлежность статуса к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	_, ok := knownIdempotencyStatuses[s]
	return ok
}

// IdempotencyRecord фиксирует обработку мутации с заголовком Idempotency-Key:
// хэш запроса защищает от переиспользования ключа с другим телом, а
// сохранённый ответ позволяет отдать повтор без повторной обработки.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus

	// Кэшированный ответ: тело и HTTP-код, отданные первым выполнением.
	ResponseBody []byte
	HTTPStatus   int

	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired сообщает, истёк ли срок хранения записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}
