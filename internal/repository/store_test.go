package repository

import (
	"path/filepath"
	"testing"

	"dental-insights-go/internal/types"
)

func testRecord(patient string, score int) types.ConsultationRecord {
	return types.ConsultationRecord{
		Time:       "2026-08-31 10:00",
		Consultant: "李医生",
		Patient:    patient,
		Deal:       "否",
		ConsultationReport: types.ConsultationReport{
			Summary:        "患者咨询种植牙",
			CustomerIntent: "高",
			SalesScore:     score,
			PainPoints:     "怕痛、嫌贵",
			GoodPoints:     "流程清晰",
			BadPoints:      "无",
			NextStep:       "预约CT",
		},
		Dialogue: "【说话人 0】: 您好\n\n【说话人 1】: 牙疼",
	}
}

func TestAppendListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "consultations.xlsx")
	store, err := New(path)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}

	if err := store.Append(testRecord("王先生", 85)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(testRecord("赵女士", 42)); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// newest first
	if recs[0].Patient != "赵女士" || recs[1].Patient != "王先生" {
		t.Errorf("wrong ordering: %q then %q", recs[0].Patient, recs[1].Patient)
	}
	if recs[0].SalesScore != 42 {
		t.Errorf("sales score = %d, want 42", recs[0].SalesScore)
	}
	if recs[1].Dialogue != "【说话人 0】: 您好\n\n【说话人 1】: 牙疼" {
		t.Errorf("dialogue not preserved: %q", recs[1].Dialogue)
	}
	if recs[1].CustomerIntent != "高" || recs[1].NextStep != "预约CT" {
		t.Errorf("report fields not preserved: %+v", recs[1].ConsultationReport)
	}
}

func TestReopenKeepsExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consultations.xlsx")
	store, err := New(path)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := store.Append(testRecord("王先生", 85)); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	recs, err := reopened.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Patient != "王先生" {
		t.Fatalf("existing records lost on reopen: %+v", recs)
	}
}

func TestListOnEmptyStore(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "empty.xlsx"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	recs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records from empty store", len(recs))
	}
}
