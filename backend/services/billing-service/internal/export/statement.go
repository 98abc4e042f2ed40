package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"chargepay/backend/services/billing-service/internal/ledger"
)

// Format selects the statement file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ErrUnsupportedFormat is returned for unknown statement formats.
var ErrUnsupportedFormat = errors.New("export: unsupported statement format")

// ParseFormat accepts xlsx or pdf, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Statement is a wallet log rendered for the owner.
type Statement struct {
	Wallet       ledger.Wallet
	Summary      ledger.Summary
	Transactions []ledger.Transaction
	GeneratedAt  time.Time
}

// Render encodes the statement in the requested format.
func Render(format Format, stmt Statement) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return BuildStatementXLSX(stmt)
	case FormatPDF:
		return BuildStatementPDF(stmt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// BuildStatementPDF renders a one-table PDF of the wallet log.
func BuildStatementPDF(stmt Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Wallet Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{
		fmt.Sprintf("Wallet: %s", stmt.Wallet.ID),
		fmt.Sprintf("Owner: %s", stmt.Wallet.Owner),
		fmt.Sprintf("Generated: %s", stmt.GeneratedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Balance (%s): %s", stmt.Wallet.Currency, stmt.Summary.Balance.StringFixed(2)),
		fmt.Sprintf("Pending (%s): %s", stmt.Wallet.Currency, stmt.Summary.Pending.StringFixed(2)),
		fmt.Sprintf("Available (%s): %s", stmt.Wallet.Currency, stmt.Summary.Available.StringFixed(2)),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	pdf.Ln(4)

	widths := []float64{12, 36, 26, 26, 24, 66}
	headers := []string{"#", "Date", "Type", "Status", "Amount", "Reference"}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, tx := range stmt.Transactions {
		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", tx.Seq), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[1], 6, tx.CreatedAt.UTC().Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, string(tx.Type), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 6, string(tx.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, tx.Amount.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, tx.Reference, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a summary sheet and a transactions sheet.
func BuildStatementXLSX(stmt Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	txSheet := "transactions"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(txSheet); err != nil {
		return nil, err
	}

	rows := [][]interface{}{
		{"Wallet Statement"},
		{},
		{"Wallet", stmt.Wallet.ID.String()},
		{"Owner", stmt.Wallet.Owner},
		{"Currency", stmt.Wallet.Currency},
		{"Generated", stmt.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Balance", stmt.Summary.Balance.String()},
		{"Pending", stmt.Summary.Pending.String()},
		{"Available", stmt.Summary.Available.String()},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	header := []interface{}{"Seq", "Created", "Type", "Status", "Amount", "Reference", "Related", "Reason", "Transaction ID"}
	if err := f.SetSheetRow(txSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, tx := range stmt.Transactions {
		related := ""
		if tx.RelatedID != nil {
			related = tx.RelatedID.String()
		}
		amount, _ := tx.Amount.Float64()
		row := []interface{}{
			tx.Seq,
			tx.CreatedAt.UTC().Format(time.RFC3339),
			string(tx.Type),
			string(tx.Status),
			amount,
			tx.Reference,
			related,
			tx.Reason,
			tx.ID.String(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(txSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
