package tg

import (
	"strconv"

	gocache "github.com/patrickmn/go-cache"

	"attendance_bot/internal/service/form"
)

// session данные диалога одного пользователя
type session struct {
	EventID string
	Form    *form.Controller
	Current form.Field
	Asked   map[form.Field]bool
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (h *TGHandler) getSession(userID int64) *session {
	if x, found := h.sessions.Get(key(userID)); found {
		if s, ok := x.(*session); ok {
			return s
		}
	}
	return nil
}

// sessionFor возвращает сессию или создает новую на мероприятие по умолчанию
func (h *TGHandler) sessionFor(userID int64) *session {
	if s := h.getSession(userID); s != nil {
		return s
	}
	s := &session{EventID: h.defaultEventID}
	h.saveSession(userID, s)
	return s
}

func (h *TGHandler) saveSession(userID int64, s *session) {
	h.sessions.Set(key(userID), s, gocache.DefaultExpiration)
}

// startForm начинает новую форму регистрации
func (h *TGHandler) startForm(userID int64, s *session) {
	s.Form = form.NewController(s.EventID, h.identity, h.queue, h.logger)
	s.Asked = make(map[form.Field]bool)
	s.Current = ""
	h.saveSession(userID, s)
}

var steps = []form.Field{
	form.FieldEmail,
	form.FieldPhone,
	form.FieldName,
	form.FieldAddress,
	form.FieldOccupation,
	form.FieldGender,
	form.FieldNationality,
	form.FieldDepartment,
	form.FieldFirstTimer,
}

// next следующий неотвеченный шаг. Заполненные автоматически поля пропускаются,
// необязательный отдел спрашивается всегда.
func (s *session) next() form.Field {
	v := s.Form.Values()
	for _, f := range steps {
		if s.Asked[f] {
			continue
		}
		if f == form.FieldDepartment || empty(v, f) {
			return f
		}
	}
	return ""
}

func empty(v form.Values, f form.Field) bool {
	switch f {
	case form.FieldName:
		return v.Name == ""
	case form.FieldEmail:
		return v.Email == ""
	case form.FieldPhone:
		return v.Phone == ""
	case form.FieldAddress:
		return v.Address == ""
	case form.FieldOccupation:
		return v.Occupation == ""
	case form.FieldGender:
		return v.Gender == ""
	case form.FieldNationality:
		return v.Nationality == ""
	case form.FieldDepartment:
		return v.Department == ""
	case form.FieldFirstTimer:
		return v.FirstTimer == nil
	}
	return true
}
