package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"loja/backend/internal/domain"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	summarySheet  = "Summary"
	topItemsSheet = "Top items"
)

// Row is one line of the flat CSV export.
type Row struct {
	Section string `csv:"section"`
	Name    string `csv:"name"`
	Value   string `csv:"value"`
}

// Rows flattens a monthly report: summary figures first, then the ranked items.
func Rows(r domain.MonthlyReport) []Row {
	rows := []Row{
		{Section: "summary", Name: "month", Value: r.Month},
		{Section: "summary", Name: "sales", Value: FormatCents(r.SalesCents)},
		{Section: "summary", Name: "rentals", Value: FormatCents(r.RentalsCents)},
		{Section: "summary", Name: "total", Value: FormatCents(r.TotalCents)},
	}
	for _, item := range r.TopItems {
		rows = append(rows, Row{Section: "top_item", Name: item.Name, Value: strconv.Itoa(item.Quantity)})
	}
	return rows
}

func WriteCSV(w io.Writer, r domain.MonthlyReport) error {
	rows := Rows(r)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}

func WriteXLSX(w io.Writer, r domain.MonthlyReport) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	summary := [][]any{
		{"Month", r.Month},
		{"Sales", centsToFloat(r.SalesCents)},
		{"Rentals", centsToFloat(r.RentalsCents)},
		{"Total", centsToFloat(r.TotalCents)},
	}
	for i, row := range summary {
		if err := file.SetSheetRow(summarySheet, cell(1, i+1), &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}

	if _, err := file.NewSheet(topItemsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	header := []any{"Item", "Quantity"}
	if err := file.SetSheetRow(topItemsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, item := range r.TopItems {
		row := []any{item.Name, item.Quantity}
		if err := file.SetSheetRow(topItemsSheet, cell(1, i+2), &row); err != nil {
			return fmt.Errorf("write item row: %w", err)
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx report: %w", err)
	}
	return nil
}

// FormatCents renders an amount in cents with two decimals.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func centsToFloat(cents int64) float64 {
	return float64(cents) / 100
}

func cell(col int, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
