package zaplogger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "console")
	if err != nil {
		t.Fatalf("New вернул ошибку: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("ожидали включенный debug уровень")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Error("ожидали ошибку для неизвестного уровня")
	}
}
