package executor

import "strings"

// Классификация ошибок биржи. Упорядоченный список правил, побеждает
// первое совпадение; всё неизвестное считается временным: лучше лишний
// повтор, чем навсегда похоронить валидное намерение из-за новой
// формулировки ошибки.

// classifyRule - одно правило классификации по подстроке
type classifyRule struct {
	substrings []string
	retryable  bool
	reason     string
}

// rules проверяются сверху вниз. Insufficient funds стоит первым:
// пользователь может пополнить баланс, бросать стратегическое решение
// из-за временного кассового разрыва нельзя.
var rules = []classifyRule{
	{
		substrings: []string{"insufficient funds", "insufficient balance"},
		retryable:  true,
		reason:     "insufficient_funds",
	},
	{
		substrings: []string{
			"invalid arguments", "invalid pair", "unknown asset pair",
			"invalid volume", "volume minimum not met", "invalid price",
			"unknown instrument", "permission denied", "invalid key",
			"invalid credential", "invalid signature", "invalid nonce",
		},
		retryable: false,
		reason:    "invalid_request",
	},
	{
		substrings: []string{
			"rate limit", "too many requests", "throttl",
		},
		retryable: true,
		reason:    "rate_limited",
	},
	{
		substrings: []string{
			"service unavailable", "internal error", "unavailable",
			"http 5", "bad gateway", "gateway timeout",
		},
		retryable: true,
		reason:    "exchange_unavailable",
	},
	{
		substrings: []string{
			"timeout", "deadline exceeded", "connection refused",
			"connection reset", "no such host", "eof", "broken pipe",
			"network",
		},
		retryable: true,
		reason:    "network",
	},
}

// Classify определяет, имеет ли смысл повторять ордер после этой ошибки.
// Возвращает машинную причину для метрик и журналов.
func Classify(err error) (retryable bool, reason string) {
	if err == nil {
		return false, "none"
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range rules {
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return rule.retryable, rule.reason
			}
		}
	}

	// Неизвестная ошибка - временная до доказательства обратного
	return true, "unknown"
}
