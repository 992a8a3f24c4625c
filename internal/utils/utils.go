package utils

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// HandleFatalError завершает процесс, если err не nil.
// Если логгер nil, вызывает panic.
func HandleFatalError(err error, logger *zap.Logger, msg string) {
	if logger == nil {
		panic("logger is nil")
	}
	if err != nil {
		logger.Fatal(msg, zap.Error(err))
	}
}

// NormalizePhone убирает пробелы, скобки и дефисы. Ведущий "+" сохраняется,
// остальные символы кроме цифр отбрасываются.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
