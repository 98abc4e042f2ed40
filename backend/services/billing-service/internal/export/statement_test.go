package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"chargepay/backend/services/billing-service/internal/ledger"
)

func sampleStatement() Statement {
	walletID := uuid.New()
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	txs := []ledger.Transaction{
		{ID: uuid.New(), WalletID: walletID, Seq: 1, Type: ledger.TypeTopUp, Amount: decimal.RequireFromString("10.00"), Status: ledger.StatusCompleted, Reference: "gw-1", CreatedAt: created},
		{ID: uuid.New(), WalletID: walletID, Seq: 2, Type: ledger.TypePayment, Amount: decimal.RequireFromString("-2.43"), Status: ledger.StatusPending, Reference: "tx-1", CreatedAt: created.Add(time.Hour)},
	}
	return Statement{
		Wallet:       ledger.Wallet{ID: walletID, Owner: "42", Currency: "EUR", CreatedAt: created},
		Summary:      ledger.Fold(txs),
		Transactions: txs,
		GeneratedAt:  created.Add(2 * time.Hour),
	}
}

func TestBuildStatementXLSX(t *testing.T) {
	data, err := Render(FormatXLSX, sampleStatement())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	available, err := f.GetCellValue("summary", "B9")
	if err != nil {
		t.Fatalf("read available: %v", err)
	}
	if available != "7.57" {
		t.Fatalf("expected available 7.57, got %q", available)
	}
	rows, err := f.GetRows("transactions")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	if rows[2][2] != "PAYMENT" || rows[2][5] != "tx-1" {
		t.Fatalf("unexpected payment row %v", rows[2])
	}
}

func TestBuildStatementPDF(t *testing.T) {
	data, err := Render(FormatPDF, sampleStatement())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("expected PDF header, got %q", data[:8])
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("PDF"); err != nil || f != FormatPDF {
		t.Fatalf("expected pdf, got %q (%v)", f, err)
	}
	if _, err := ParseFormat("csv"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
