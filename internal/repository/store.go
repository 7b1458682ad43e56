// Package repository persists consultation records as an append log
// in a single xlsx workbook.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"dental-insights-go/internal/logger"
	"dental-insights-go/internal/types"
)

var columns = []string{
	"时间", "咨询师", "患者姓名", "是否成交",
	"客户意向", "评分", "痛点", "优点",
	"失误点", "下一步建议", "摘要", "对话实录",
}

type Store struct {
	path string
	mu   sync.Mutex
	log  *logrus.Entry
}

// New ensures the workbook and its header row exist.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("record store path not configured")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f := excelize.NewFile()
		header := make([]any, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		sheet := f.GetSheetList()[0]
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := f.SaveAs(path); err != nil {
			return nil, fmt.Errorf("init workbook: %w", err)
		}
	}
	return &Store{path: path, log: logger.New().WithComponent("repository")}, nil
}

// Append adds one record after the last occupied row. Concurrent
// appends are serialized here; the workbook itself offers no locking.
func (s *Store) Append(rec types.ConsultationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetList()[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}

	cell, _ := excelize.CoordinatesToCellName(1, len(rows)+1)
	row := []any{
		rec.Time, rec.Consultant, rec.Patient, rec.Deal,
		rec.CustomerIntent, rec.SalesScore, rec.PainPoints, rec.GoodPoints,
		rec.BadPoints, rec.NextStep, rec.Summary, rec.Dialogue,
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	s.log.WithFields(logrus.Fields{"patient": rec.Patient, "score": rec.SalesScore}).Info("record saved")
	return nil
}

// List returns all records, newest first.
func (s *Store) List() ([]types.ConsultationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetList()[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	var out []types.ConsultationRecord
	for i := len(rows) - 1; i >= 1; i-- {
		r := rows[i]
		get := func(idx int) string {
			if idx < len(r) {
				return r[idx]
			}
			return ""
		}
		score, _ := strconv.Atoi(get(5))
		out = append(out, types.ConsultationRecord{
			Time:       get(0),
			Consultant: get(1),
			Patient:    get(2),
			Deal:       get(3),
			ConsultationReport: types.ConsultationReport{
				CustomerIntent: get(4),
				SalesScore:     score,
				PainPoints:     get(6),
				GoodPoints:     get(7),
				BadPoints:      get(8),
				NextStep:       get(9),
				Summary:        get(10),
			},
			Dialogue: get(11),
		})
	}
	return out, nil
}
