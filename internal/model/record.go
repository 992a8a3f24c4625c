package model

import (
	"strings"
	"time"
)

// DayLayout формат календарного дня, используемый для проверки дублей.
const DayLayout = "2006-01-02"

// AttendanceRecord одна отметка посещения мероприятия.
type AttendanceRecord struct {
	ID          string `json:"id"`
	EventID     string `json:"eventId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Occupation  string `json:"occupation"`
	Gender      string `json:"gender"`
	Nationality string `json:"nationality"`
	Department  string `json:"department"`
	FirstTimer  bool   `json:"firstTimer"`
	CreatedAt   string `json:"createdAt"`
	// Timestamp старое поле времени, встречается в ранних записях таблицы
	Timestamp  string `json:"timestamp,omitempty"`
	UniqueCode string `json:"uniqueCode,omitempty"`
}

// NowISO возвращает текущий момент в формате createdAt.
func NowISO(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

// Day возвращает префикс YYYY-MM-DD строки времени или пустую строку.
func Day(ts string) string {
	if len(ts) < len(DayLayout) {
		return ""
	}
	return ts[:len(DayLayout)]
}

// SubmittedAt возвращает createdAt, а для старых записей - timestamp.
func (r AttendanceRecord) SubmittedAt() string {
	if r.CreatedAt != "" {
		return r.CreatedAt
	}
	return r.Timestamp
}

// IsSameDay сравнивает дату записи с датой now (UTC) по строковому префиксу.
// Часовой пояс самой записи не пересчитывается.
func (r AttendanceRecord) IsSameDay(now time.Time) bool {
	return strings.HasPrefix(r.SubmittedAt(), now.UTC().Format(DayLayout))
}

// CreatedTime разбирает createdAt. Нулевое время, если значение не разбирается.
func (r AttendanceRecord) CreatedTime() time.Time {
	return parseTime(r.SubmittedAt())
}

// MergeResponse накладывает ответ сервера на отправленную запись.
// Пустые поля ответа не затирают значения клиента. id остается клиентским:
// по нему запись ищется в очереди.
func MergeResponse(sent, resp AttendanceRecord) AttendanceRecord {
	out := sent
	if resp.UniqueCode != "" {
		out.UniqueCode = resp.UniqueCode
	}
	if resp.CreatedAt != "" {
		out.CreatedAt = resp.CreatedAt
	}
	mergeProfileFields(&out, ProfileFromRecord(resp))
	return out
}

func parseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, DayLayout} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
