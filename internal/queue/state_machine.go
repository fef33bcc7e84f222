package queue

import "orderexec/internal/models"

// ValidTransitions определяет допустимые переходы статусов ордера
//
// Терминальные статусы (COMPLETED, FAILED) отсутствуют в map:
// из них переходов нет
var ValidTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusFailed},
	models.OrderStatusRetry:      {models.OrderStatusProcessing, models.OrderStatusFailed},
	models.OrderStatusProcessing: {models.OrderStatusCompleted, models.OrderStatusRetry, models.OrderStatusFailed},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StatusInfo возвращает описание статуса для UI
func StatusInfo(s string) string {
	switch s {
	case models.OrderStatusPending:
		return "Ожидает исполнения"
	case models.OrderStatusProcessing:
		return "Исполняется на бирже..."
	case models.OrderStatusRetry:
		return "Запланирован повтор"
	case models.OrderStatusCompleted:
		return "Исполнен"
	case models.OrderStatusFailed:
		return "Провален (требует внимания)"
	default:
		return "Неизвестный статус"
	}
}
