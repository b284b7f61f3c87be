package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"orderbot/internal/domain"
)

type stubSource struct {
	orders   []domain.OrderSummary
	err      error
	from, to time.Time
}

func (s *stubSource) ListOrdersBetween(_ context.Context, from, to time.Time) ([]domain.OrderSummary, error) {
	s.from, s.to = from, to
	return s.orders, s.err
}

func sampleOrders() []domain.OrderSummary {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	return []domain.OrderSummary{
		{
			ID: 1, Code: 1001,
			CustomerName: "Ana Souza", CustomerTaxID: "12345678909",
			CreatedOn: day(1), DeliveryOn: day(31),
			StatusCode: 1, StatusName: "Aguardando",
			PaymentMethod: "PIX", EmitInvoice: true,
			Lines: []domain.OrderLineSummary{
				{ID: 10, Description: "Camiseta Azul Básica", Quantity: 18, Sizes: []domain.SizeQty{
					{Label: "P", Quantity: 10}, {Label: "M", Quantity: 5}, {Label: "G", Quantity: 3},
				}},
				{ID: 11, Description: "Boné Bordado", Quantity: 10},
			},
		},
		{
			ID: 2, Code: 1002,
			CustomerName: "Malharia São José Ltda", CustomerTaxID: "12345678000190",
			CreatedOn: day(2), DeliveryOn: day(14),
			StatusCode: 3,
			Lines: []domain.OrderLineSummary{{ID: 20, Description: "Caneca", Quantity: 4}},
		},
	}
}

func TestBuild_Sheets(t *testing.T) {
	f, err := Build(sampleOrders())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetOrders, SheetLines, SheetSizes}, f.GetSheetList())

	orders, err := f.GetRows(SheetOrders)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"1001", "Ana Souza", "12345678909", "01/03/2024", "31/03/2024", "Aguardando", "PIX", "Sim", "28"}, orders[1])
	assert.Equal(t, "3", orders[2][5], "status code used when the name is unknown")
	assert.Equal(t, "Não", orders[2][7])

	lines, err := f.GetRows(SheetLines)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"1001", "11", "Boné Bordado", "10"}, lines[2])

	sizes, err := f.GetRows(SheetSizes)
	require.NoError(t, err)
	require.Len(t, sizes, 4)
	assert.Equal(t, []string{"1001", "10", "Camiseta Azul Básica", "P", "10"}, sizes[1])
	assert.Equal(t, []string{"1001", "10", "Camiseta Azul Básica", "G", "3"}, sizes[3])
}

func TestBuild_Empty(t *testing.T) {
	f, err := Build(nil)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetOrders)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWriteXLSX(t *testing.T) {
	src := &stubSource{orders: sampleOrders()}
	path := filepath.Join(t.TempDir(), "out", "pedidos.xlsx")
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	n, err := WriteXLSX(context.Background(), src, from, to, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, from, src.from)
	assert.Equal(t, to, src.to)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetOrders)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestWriteXLSX_SourceError(t *testing.T) {
	src := &stubSource{err: errors.New("db down")}
	_, err := WriteXLSX(context.Background(), src, time.Now(), time.Now(), filepath.Join(t.TempDir(), "x.xlsx"))
	assert.ErrorContains(t, err, "db down")
}
