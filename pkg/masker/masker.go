package masker

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrConfigNotPointer = errors.New("config must be a pointer to struct")

var durationType = reflect.TypeOf(time.Duration(0))

// LogConfigs логгирует структуры конфигурации, в том числе вложенные.
// Поля с тегом masked:"true" логгируются замаскированными.
func LogConfigs(logger *zap.Logger, configs ...interface{}) error {
	for _, config := range configs {
		v := reflect.ValueOf(config)
		t := reflect.TypeOf(config)

		if v.Kind() != reflect.Ptr {
			return ErrConfigNotPointer
		}
		v = v.Elem()
		t = t.Elem()
		if v.Kind() != reflect.Struct {
			return ErrConfigNotPointer
		}

		logger.Info("Config", zap.Any(t.Name(), maskStructFields(v, t)))
	}
	return nil
}

// Phone маскирует телефон для логов, оставляя последние 4 цифры.
func Phone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// Email маскирует локальную часть адреса.
func Email(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskSensitiveData(email)
	}
	return maskSensitiveData(email[:at]) + email[at:]
}

func maskStructFields(v reflect.Value, t reflect.Type) map[string]interface{} {
	result := make(map[string]interface{})
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		masked := fieldType.Tag.Get("masked") == "true"

		if field.Type() == durationType {
			result[fieldType.Name] = time.Duration(field.Int()).String()
			continue
		}

		switch field.Kind() {
		case reflect.Struct:
			result[fieldType.Name] = maskStructFields(field, field.Type())
		case reflect.String:
			if masked && field.Len() > 0 {
				result[fieldType.Name] = maskSensitiveData(field.String())
			} else {
				result[fieldType.Name] = field.String()
			}
		default:
			result[fieldType.Name] = field.Interface()
		}
	}
	return result
}

// maskSensitiveData оставляет только первый и последний символы.
// Строки из 2 символов и короче заменяются на "****".
func maskSensitiveData(data string) string {
	if len(data) <= 2 {
		return "****"
	}
	return string(data[0]) + "****" + string(data[len(data)-1])
}
