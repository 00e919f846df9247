package auth

import "time"

// User учётная запись оператора, которому разрешено загружать и удалять повторы.
type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"` // уникальное имя (без учёта регистра)
	PasswordHash string    `json:"-"`        // bcrypt hash (60 символов)
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login"`
	IsAdmin      bool      `json:"is_admin"`
}
