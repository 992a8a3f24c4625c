package model

import "time"

// UserProfile сохраненные данные человека, ключ кеша - телефон.
type UserProfile struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Occupation  string `json:"occupation"`
	Gender      string `json:"gender"`
	Nationality string `json:"nationality"`
	Department  string `json:"department"`
	FirstTimer  bool   `json:"firstTimer"`
	UniqueCode  string `json:"uniqueCode,omitempty"`
	// LastSeenAt createdAt записи, из которой получен профиль
	LastSeenAt string `json:"lastSeenAt,omitempty"`
}

// ProfileFromRecord выделяет профиль из записи (без eventId и createdAt).
func ProfileFromRecord(r AttendanceRecord) UserProfile {
	return UserProfile{
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Address:     r.Address,
		Occupation:  r.Occupation,
		Gender:      r.Gender,
		Nationality: r.Nationality,
		Department:  r.Department,
		FirstTimer:  r.FirstTimer,
		UniqueCode:  r.UniqueCode,
		LastSeenAt:  r.SubmittedAt(),
	}
}

// NewRecordFromProfile создает новую отметку на основе профиля.
func NewRecordFromProfile(p UserProfile, eventID string, now time.Time) AttendanceRecord {
	r := AttendanceRecord{EventID: eventID, CreatedAt: NowISO(now)}
	mergeProfileFields(&r, p)
	return r
}

// MergeProfile переносит в запись только поля профиля из белого списка.
// Непустые значения профиля заменяют значения записи. uniqueCode не переносится:
// его выдает сервер для каждой записи.
func MergeProfile(r AttendanceRecord, p UserProfile) AttendanceRecord {
	mergeProfileFields(&r, p)
	return r
}

// Newer сообщает, что профиль p не старше other (по LastSeenAt).
// Профиль без метки времени считается самым старым.
func (p UserProfile) Newer(other UserProfile) bool {
	return !parseTime(p.LastSeenAt).Before(parseTime(other.LastSeenAt))
}

func mergeProfileFields(r *AttendanceRecord, p UserProfile) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.Name, p.Name)
	set(&r.Email, p.Email)
	set(&r.Phone, p.Phone)
	set(&r.Address, p.Address)
	set(&r.Occupation, p.Occupation)
	set(&r.Gender, p.Gender)
	set(&r.Nationality, p.Nationality)
	set(&r.Department, p.Department)
	if p.FirstTimer {
		r.FirstTimer = true
	}
}
