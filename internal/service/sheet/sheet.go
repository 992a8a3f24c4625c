package sheet

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

const rowsCacheKey = "rows"

type SheetService struct {
	SpreadsheetID string
	SheetID       string
	SheetName     string
	PauseMs       int // пауза между запросами в миллисекундах
	srv           *sheets.Service
	limiterMu     sync.Mutex
	lastCall      time.Time
	colMap        ColumnMap
	cache         *gocache.Cache
	cacheTTL      time.Duration
}

type ColumnMap map[string]int // например: "ID": 0, "EventID": 1, ...

var defaultColumns = []string{
	"ID", "EventID", "Name", "Email", "Phone", "Address", "Occupation",
	"Gender", "Nationality", "Department", "FirstTimer", "CreatedAt", "UniqueCode",
}

// Создает ColumnMap по умолчанию
func NewDefaultColumnMap() ColumnMap {
	m := make(ColumnMap, len(defaultColumns))
	for idx, field := range defaultColumns {
		m[field] = idx
	}
	return m
}

// Создает ColumnMap из строки порядка (например: "ID,EventID,Name,Phone,CreatedAt")
func CreateColumnMapFromOrder(order string) ColumnMap {
	if order == "" {
		return NewDefaultColumnMap()
	}
	fields := strings.Split(order, ",")
	m := make(ColumnMap)
	for idx, field := range fields {
		m[strings.TrimSpace(field)] = idx
	}
	return m
}

// Header названия колонок по порядку
func (m ColumnMap) Header() []interface{} {
	out := make([]interface{}, m.width())
	for field, idx := range m {
		out[idx] = field
	}
	return out
}

func (m ColumnMap) width() int {
	w := 0
	for _, idx := range m {
		if idx+1 > w {
			w = idx + 1
		}
	}
	return w
}

// Конструктор SheetService. opts дополняют или заменяют учетные данные (например, в тестах).
func NewSheetService(ctx context.Context, base64Creds, spreadsheetID, sheetID string, pauseMs int, colMap ColumnMap, cacheTTL time.Duration, opts ...option.ClientOption) (*SheetService, error) {
	if base64Creds != "" {
		credBytes, err := base64.StdEncoding.DecodeString(base64Creds)
		if err != nil {
			return nil, fmt.Errorf("не удается декодировать credentials из base64: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, credBytes, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("не удается создать credentials из JSON: %w", err)
		}
		opts = append([]option.ClientOption{option.WithCredentials(creds)}, opts...)
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удается инициализировать сервис Google Sheets: %w", err)
	}
	if colMap == nil {
		colMap = NewDefaultColumnMap()
	}

	s := &SheetService{
		SpreadsheetID: spreadsheetID,
		SheetID:       sheetID,
		PauseMs:       pauseMs,
		srv:           srv,
		lastCall:      time.Now(),
		colMap:        colMap,
		cacheTTL:      cacheTTL,
	}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}

	// Получаем имя листа
	if err := s.fetchSheetName(ctx); err != nil {
		return nil, fmt.Errorf("не удается получить имя листа: %w", err)
	}

	return s, nil
}

// Получение имени листа по его ID
func (s *SheetService) fetchSheetName(ctx context.Context) error {
	s.Wait() // лимитер

	resp, err := s.srv.Spreadsheets.Get(s.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка получения информации о таблице: %w", err)
	}

	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil && fmt.Sprint(sheet.Properties.SheetId) == s.SheetID {
			s.SheetName = sheet.Properties.Title
			return nil
		}
	}

	return fmt.Errorf("лист с ID %s: %w", s.SheetID, domain.ErrNotFound)
}

// Лимитер: вызывает паузу между запросами
func (s *SheetService) Wait() {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	elapsed := time.Since(s.lastCall)
	pause := time.Duration(s.PauseMs) * time.Millisecond
	if elapsed < pause {
		time.Sleep(pause - elapsed)
	}
	s.lastCall = time.Now()
}

// EnsureHeader записывает заголовок в первую строку, если она пустая
func (s *SheetService) EnsureHeader(ctx context.Context) error {
	s.Wait()

	rangeStr := fmt.Sprintf("%s!A1:%s1", s.SheetName, columnLetter(s.colMap.width()))
	resp, err := s.srv.Spreadsheets.Values.Get(s.SpreadsheetID, rangeStr).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка чтения заголовка: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.Wait()
	vr := &sheets.ValueRange{Values: [][]interface{}{s.colMap.Header()}}
	_, err = s.srv.Spreadsheets.Values.Update(s.SpreadsheetID, rangeStr, vr).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}
	return nil
}

// AppendRecord добавляет запись строкой в конец таблицы
func (s *SheetService) AppendRecord(ctx context.Context, rec model.AttendanceRecord) error {
	s.Wait() // лимитер

	vr := &sheets.ValueRange{
		Values: [][]interface{}{s.toRow(rec)},
	}
	// Используем имя листа вместо ID
	rangeStr := fmt.Sprintf("%s!A1", s.SheetName)
	_, err := s.srv.Spreadsheets.Values.Append(s.SpreadsheetID, rangeStr, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("ошибка вставки в таблицу: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(rowsCacheKey)
	}
	return nil
}

// FindRecords возвращает записи в порядке строк. Условия объединяются через И,
// пустой запрос возвращает все записи.
func (s *SheetService) FindRecords(ctx context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error) {
	all, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.AttendanceRecord, 0)
	for _, r := range all {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ping проверяет доступ к таблице
func (s *SheetService) Ping(ctx context.Context) error {
	s.Wait()
	_, err := s.srv.Spreadsheets.Get(s.SpreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

func (s *SheetService) records(ctx context.Context) ([]model.AttendanceRecord, error) {
	if s.cache != nil {
		if x, ok := s.cache.Get(rowsCacheKey); ok {
			return x.([]model.AttendanceRecord), nil
		}
	}

	s.Wait() // лимитер
	rangeStr := fmt.Sprintf("%s!A2:%s", s.SheetName, columnLetter(s.colMap.width()))
	resp, err := s.srv.Spreadsheets.Values.Get(s.SpreadsheetID, rangeStr).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}

	out := make([]model.AttendanceRecord, 0, len(resp.Values))
	for _, row := range resp.Values {
		rec, ok := s.fromRow(row)
		if ok {
			out = append(out, rec)
		}
	}
	if s.cache != nil {
		s.cache.Set(rowsCacheKey, out, gocache.DefaultExpiration)
	}
	return out, nil
}

func (s *SheetService) toRow(rec model.AttendanceRecord) []interface{} {
	values := make([]interface{}, s.colMap.width())
	for i := range values {
		values[i] = ""
	}
	for field, idx := range s.colMap {
		switch field {
		case "ID":
			values[idx] = rec.ID
		case "EventID":
			values[idx] = rec.EventID
		case "Name":
			values[idx] = rec.Name
		case "Email":
			values[idx] = rec.Email
		case "Phone":
			values[idx] = rec.Phone
		case "Address":
			values[idx] = rec.Address
		case "Occupation":
			values[idx] = rec.Occupation
		case "Gender":
			values[idx] = rec.Gender
		case "Nationality":
			values[idx] = rec.Nationality
		case "Department":
			values[idx] = rec.Department
		case "FirstTimer":
			values[idx] = rec.FirstTimer
		case "CreatedAt":
			values[idx] = rec.SubmittedAt()
		case "UniqueCode":
			values[idx] = rec.UniqueCode
		}
	}
	return values
}

// fromRow разбирает строку таблицы. Пустые строки пропускаются.
func (s *SheetService) fromRow(row []interface{}) (model.AttendanceRecord, bool) {
	cell := func(field string) string {
		idx, ok := s.colMap[field]
		if !ok || idx >= len(row) || row[idx] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[idx]))
	}
	rec := model.AttendanceRecord{
		ID:          cell("ID"),
		EventID:     cell("EventID"),
		Name:        cell("Name"),
		Email:       cell("Email"),
		Phone:       cell("Phone"),
		Address:     cell("Address"),
		Occupation:  cell("Occupation"),
		Gender:      cell("Gender"),
		Nationality: cell("Nationality"),
		Department:  cell("Department"),
		FirstTimer:  parseBool(cell("FirstTimer")),
		CreatedAt:   cell("CreatedAt"),
		UniqueCode:  cell("UniqueCode"),
	}
	if rec.ID == "" && rec.Phone == "" && rec.Email == "" {
		return rec, false
	}
	return rec, true
}

// matches условия запроса объединяются через И, email без учета регистра
func matches(r model.AttendanceRecord, q domain.LookupQuery) bool {
	if q.Email != "" && !strings.EqualFold(strings.TrimSpace(r.Email), strings.TrimSpace(q.Email)) {
		return false
	}
	if q.Phone != "" && r.Phone != q.Phone {
		return false
	}
	return q.EventID == "" || r.EventID == q.EventID
}

func parseBool(v string) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return strings.EqualFold(v, "yes")
}

// columnLetter 1 -> A, 27 -> AA
func columnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}
