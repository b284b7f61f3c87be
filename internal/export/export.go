// Package export writes committed orders to an XLSX workbook for the
// production floor: one sheet of order headers, one of lines and one of the
// size breakdown.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"orderbot/internal/domain"
)

const (
	SheetOrders = "Pedidos"
	SheetLines  = "Itens"
	SheetSizes  = "Grade"

	dateLayout = "02/01/2006"
)

// OrderSource lists orders created in a date range; *storage.OrderStore
// satisfies it.
type OrderSource interface {
	ListOrdersBetween(ctx context.Context, from, to time.Time) ([]domain.OrderSummary, error)
}

// Build lays the orders out in a new workbook.
func Build(orders []domain.OrderSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetOrders); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetLines, SheetSizes} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	w := sheetWriter{f: f}
	w.row(SheetOrders, 1, "pedido", "cliente", "cpf_cnpj", "emissao", "entrega", "status", "pagamento", "nota_fiscal", "pecas")
	w.row(SheetLines, 1, "pedido", "item", "descricao", "quantidade")
	w.row(SheetSizes, 1, "pedido", "item", "descricao", "tamanho", "quantidade")

	lineRow, sizeRow := 2, 2
	for i, o := range orders {
		status := o.StatusName
		if status == "" {
			status = fmt.Sprint(o.StatusCode)
		}
		w.row(SheetOrders, i+2,
			o.Code,
			o.CustomerName,
			o.CustomerTaxID,
			o.CreatedOn.Format(dateLayout),
			o.DeliveryOn.Format(dateLayout),
			status,
			o.PaymentMethod,
			yesNo(o.EmitInvoice),
			o.TotalQuantity(),
		)
		for _, l := range o.Lines {
			w.row(SheetLines, lineRow, o.Code, l.ID, l.Description, l.Quantity)
			lineRow++
			for _, s := range l.Sizes {
				w.row(SheetSizes, sizeRow, o.Code, l.ID, l.Description, s.Label, s.Quantity)
				sizeRow++
			}
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	return f, nil
}

// WriteXLSX exports the orders created between from and to into path and
// returns how many were written.
func WriteXLSX(ctx context.Context, src OrderSource, from, to time.Time, path string) (int, error) {
	orders, err := src.ListOrdersBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}
	f, err := Build(orders)
	if err != nil {
		return 0, fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	return len(orders), nil
}

// sheetWriter keeps the first error so rows can be written without
// checking each cell.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) row(sheet string, r int, values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, r)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &values)
}

func yesNo(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}
