package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth - middleware для защиты админ API статическим токеном
//
// Проверяет заголовок Authorization: Bearer <token> против переданного
// токена. Использует constant-time сравнение для предотвращения timing
// attacks. Пустой токен отключает проверку (локальное развертывание
// без auth), в production ADMIN_TOKEN обязателен.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			provided, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || provided == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="Admin API"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
