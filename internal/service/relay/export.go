package relay

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"attendance_bot/internal/model"
)

const exportSheet = "Attendance"

var ErrExportFormat = errors.New("unsupported export format")

var exportHeader = []string{
	"ID", "Event", "Name", "Email", "Phone", "Address", "Occupation",
	"Gender", "Nationality", "Department", "First timer", "Created at", "Code",
}

// Export выгружает историю мероприятия. Возвращает содержимое, content-type и имя файла.
func (s *Service) Export(ctx context.Context, eventID, format string) (*bytes.Buffer, string, string, error) {
	records, err := s.History(ctx, eventID)
	if err != nil {
		return nil, "", "", err
	}
	name := "attendance"
	if eventID != "" {
		name += "-" + eventID
	}

	switch format {
	case "", "xlsx":
		buf, err := exportXLSX(records)
		if err != nil {
			return nil, "", "", err
		}
		return buf, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", name + ".xlsx", nil
	case "csv":
		buf, err := exportCSV(records)
		if err != nil {
			return nil, "", "", err
		}
		return buf, "text/csv", name + ".csv", nil
	default:
		return nil, "", "", fmt.Errorf("%w: %s", ErrExportFormat, format)
	}
}

func exportRow(r model.AttendanceRecord) []string {
	return []string{
		r.ID, r.EventID, r.Name, r.Email, r.Phone, r.Address, r.Occupation,
		r.Gender, r.Nationality, r.Department, strconv.FormatBool(r.FirstTimer), r.SubmittedAt(), r.UniqueCode,
	}
}

func exportXLSX(records []model.AttendanceRecord) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	write := func(row int, values []string) error {
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return f.SetSheetRow(exportSheet, cell, &cells)
	}
	if err := write(1, exportHeader); err != nil {
		return nil, err
	}
	for i, r := range records {
		if err := write(i+2, exportRow(r)); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf, nil
}

func exportCSV(records []model.AttendanceRecord) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write(exportRow(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf, w.Error()
}
