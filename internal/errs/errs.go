package errs

import "errors"

// Ошибки домена очереди. Сравнивать через errors.Is: сервис оборачивает их контекстом.
var (
	ErrInvalidDepartment = errors.New("invalid department")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("queue entry not found")
	ErrStoreUnavailable  = errors.New("queue store unavailable")

	// ErrClaimLost: условное обновление не затронуло ни одной строки, запись уже забрал другой вызов.
	// Наружу не выходит, сервис перечитывает запись и повторяет.
	ErrClaimLost = errors.New("queue entry claimed concurrently")
	// ErrContention: попытки обновления или выдачи номера исчерпаны.
	ErrContention = errors.New("queue contention, retry later")
	// ErrDuplicateTicket: нарушен уникальный индекс (department, ticket_day, ticket_number).
	ErrDuplicateTicket = errors.New("duplicate ticket number")
)

// IsDomain сообщает, что err является ошибкой домена, а не сбоем инфраструктуры.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrInvalidDepartment, ErrInvalidPriority, ErrInvalidTransition, ErrNotFound,
		ErrStoreUnavailable, ErrClaimLost, ErrContention, ErrDuplicateTicket,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
