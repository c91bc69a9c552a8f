package report

import (
	"bytes"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"loja/backend/internal/domain"
)

func sampleReport() domain.MonthlyReport {
	return domain.MonthlyReport{
		Month:        "2024-05",
		SalesCents:   20000,
		RentalsCents: 5050,
		TotalCents:   25050,
		TopItems: []domain.PopularItem{
			{Name: "Tent", Quantity: 5},
			{Name: "Chair", Quantity: 3},
		},
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "50.50", FormatCents(5050))
	assert.Equal(t, "-1.05", FormatCents(-105))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport()))

	var rows []Row
	require.NoError(t, gocsv.UnmarshalBytes(buf.Bytes(), &rows))
	require.Len(t, rows, 6)
	assert.Equal(t, Row{Section: "summary", Name: "rentals", Value: "50.50"}, rows[2])
	assert.Equal(t, Row{Section: "top_item", Name: "Tent", Value: "5"}, rows[4])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleReport()))

	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, []string{summarySheet, topItemsSheet}, file.GetSheetList())

	summary, err := file.GetRows(summarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"Month", "2024-05"}, summary[0])

	items, err := file.GetRows(topItemsSheet)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"Chair", "3"}, items[2])
}
