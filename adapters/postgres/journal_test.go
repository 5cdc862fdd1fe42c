package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/next-trace/scg-service-runtime/saga"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(
		postgres.Open("host=127.0.0.1 user=scg dbname=scg sslmode=disable"),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true},
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	return db
}

func sampleStatus() saga.Status {
	done := time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC)
	msg := "step credit failed"

	return saga.Status{
		SagaID:        "s-1",
		CorrelationID: "corr_1",
		SagaType:      "transfer",
		State:         saga.StateCompensated,
		CurrentStep:   1,
		Data:          map[string]any{"amount": float64(10)},
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CompletedAt:   &done,
		Error:         &msg,
		Steps: []saga.StepStatus{
			{Name: "debit", Service: "accounts", Action: "debit", State: saga.StepCompensated, Attempts: 1},
		},
	}
}

func TestModel_RoundTripPreservesSnapshot(t *testing.T) {
	in := sampleStatus()
	recorded := time.Date(2026, 1, 2, 3, 4, 7, 0, time.UTC)

	row, err := toModel(in, recorded)
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}

	if row.SagaID != "s-1" || row.State != "COMPENSATED" || !row.RecordedAt.Equal(recorded) {
		t.Fatalf("row: %+v", row)
	}

	out, err := fromModel(row)
	if err != nil {
		t.Fatalf("fromModel: %v", err)
	}

	if out.SagaID != in.SagaID || out.State != in.State || *out.Error != *in.Error || !out.CompletedAt.Equal(*in.CompletedAt) {
		t.Fatalf("out: %+v", out)
	}

	if out.Data["amount"] != float64(10) || out.Steps[0].State != saga.StepCompensated {
		t.Fatalf("nested: %+v", out)
	}
}

func TestModel_CorruptSnapshot(t *testing.T) {
	if _, err := fromModel(snapshotModel{SagaID: "x", Snapshot: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestJournal_RecordUpserts(t *testing.T) {
	db := dryRunDB(t)
	j := NewJournal(db, nil)

	row, err := toModel(sampleStatus(), time.Now())
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}

	stmt := db.Session(&gorm.Session{DryRun: true}).Create(&row).Statement
	if !strings.Contains(stmt.SQL.String(), "saga_snapshots") {
		t.Fatalf("table: %s", stmt.SQL.String())
	}

	if err := j.Record(context.Background(), sampleStatus()); err != nil {
		t.Fatalf("dry-run record: %v", err)
	}
}

func TestConnect_RequiresDSN(t *testing.T) {
	if _, err := Connect(t.Context(), ""); err == nil {
		t.Fatalf("expected error")
	}

	if err := Close(nil); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
