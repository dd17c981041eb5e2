package memory

import (
	"context"
	"testing"

	"fintrack/internal/core"
)

func TestMemoryStoreAppend(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref, err := s.Append(ctx, core.TransactionPosted{TransactionID: 7, Kind: core.Deposit, Amount: core.MustParseMoney("10.00")})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	again, err := s.Append(ctx, core.TransactionPosted{TransactionID: 7, Kind: core.Deposit, Amount: core.MustParseMoney("10.00")})
	if err != nil || again != "mem:1" {
		t.Fatalf("redelivery should return the first ref: ref=%q err=%v", again, err)
	}

	if _, err := s.Append(ctx, core.TransactionPosted{TransactionID: 8, Kind: core.Withdrawal, Amount: core.MustParseMoney("1")}); err != nil {
		t.Fatal(err)
	}
	rows := s.Rows()
	if len(rows) != 2 || rows[0].TransactionID != 7 || rows[1].TransactionID != 8 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestMemoryStoreRejectsMissingID(t *testing.T) {
	if _, err := New().Append(context.Background(), core.TransactionPosted{}); err == nil {
		t.Fatal("expected error for zero transaction id")
	}
}
