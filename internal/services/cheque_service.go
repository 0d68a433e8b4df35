package services

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

// ChequeService generates reference codes and printable cheque documents
// for deposit/withdrawal requests. It only ever sees decrypted,
// validated values.
type ChequeService struct{}

func NewChequeService() *ChequeService {
	return &ChequeService{}
}

const chequeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateChequeNumber builds a reference code from the current
// timestamp and a random suffix, e.g. DEP20250103154210X7K2QD. The
// database unique constraint on cheque_number is the hard guarantee;
// this is only practically collision-free.
func (s *ChequeService) GenerateChequeNumber(prefix string) string {
	timestamp := time.Now().Format("20060102150405")

	suffix := make([]byte, 6)
	rand.Read(suffix)
	for i := range suffix {
		suffix[i] = chequeChars[int(suffix[i])%len(chequeChars)]
	}

	return prefix + timestamp + string(suffix)
}

// DepositChequePDF renders the cheque document for a deposit request.
func (s *ChequeService) DepositChequePDF(username string, amount decimal.Decimal, chequeNumber string) ([]byte, error) {
	return s.renderCheque(chequeLayout{
		title:        "DEPOSIT CHEQUE",
		holderLabel:  "Account Holder",
		stamp:        "DEPOSIT PENDING APPROVAL",
		borderR:      0, borderG: 0, borderB: 128, // navy
		patternR: 173, patternG: 216, patternB: 230, // light blue
	}, username, amount, chequeNumber)
}

// WithdrawChequePDF renders the cheque document for a withdrawal request.
func (s *ChequeService) WithdrawChequePDF(username string, amount decimal.Decimal, chequeNumber string) ([]byte, error) {
	return s.renderCheque(chequeLayout{
		title:        "WITHDRAWAL CHEQUE",
		holderLabel:  "Pay to the order of",
		stamp:        "WITHDRAWAL PENDING APPROVAL",
		borderR:      139, borderG: 0, borderB: 0, // dark red
		patternR: 255, patternG: 192, patternB: 203, // pink
	}, username, amount, chequeNumber)
}

type chequeLayout struct {
	title       string
	holderLabel string
	stamp       string

	borderR, borderG, borderB    int
	patternR, patternG, patternB int
}

func (s *ChequeService) renderCheque(layout chequeLayout, username string, amount decimal.Decimal, chequeNumber string) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.AddPage()
	width, height := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetXY(0, 38)
	pdf.CellFormat(width, 24, "Secure Bank", "", 0, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetXY(0, 88)
	pdf.CellFormat(width, 18, layout.title, "", 0, "C", false, 0, "")

	pdf.SetDrawColor(layout.borderR, layout.borderG, layout.borderB)
	pdf.SetLineWidth(2)
	pdf.Rect(50, 100, width-100, height-200, "D")

	pdf.SetDrawColor(layout.patternR, layout.patternG, layout.patternB)
	pdf.SetLineWidth(1)
	for i := 0; i < 10; i++ {
		y := height - 120 - float64(i)*20
		pdf.Line(70, y, width-70, y)
	}

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(70, 150, fmt.Sprintf("Cheque No: %s", chequeNumber))
	pdf.Text(70, 180, fmt.Sprintf("Date: %s", time.Now().Format("2006-01-02 15:04:05")))
	pdf.Text(70, 210, fmt.Sprintf("%s: %s", layout.holderLabel, username))

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(70, 260, "Amount:")

	pdf.SetDrawColor(0, 0, 0)
	pdf.Rect(170, 240, 150, 30, "D")
	pdf.SetFont("Courier", "B", 16)
	pdf.SetXY(170, 245)
	pdf.CellFormat(140, 20, fmt.Sprintf("$%s", amount.StringFixed(2)), "", 0, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(70, 300, "This request is subject to verification by Secure Bank")

	png, err := qrcode.Encode(chequeNumber, qrcode.Medium, 96)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cheque QR code: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr-"+chequeNumber, opts, bytes.NewReader(png))
	pdf.ImageOptions("qr-"+chequeNumber, width-170, height-300, 96, 96, false, opts, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	pdf.Text(70, height-150, "This document contains security features. Hold up to light to verify watermark.")

	pdf.SetDrawColor(0, 0, 0)
	pdf.Line(width-200, height-180, width-70, height-180)
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetXY(width-200, height-178)
	pdf.CellFormat(130, 14, "Authorized Signature", "", 0, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(0, height-140)
	pdf.CellFormat(width, 14, layout.stamp, "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render cheque PDF: %w", err)
	}
	return buf.Bytes(), nil
}
