package export

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const sheetName = "Results"

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "csv: write header")
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = cellText(row[col])
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

func writeXLSX(w io.Writer, t *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range t.Columns {
		header.AddCell().SetString(col)
	}

	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, col := range t.Columns {
			setCell(r.AddCell(), row[col])
		}
	}

	return eris.Wrap(f.Write(w), "xlsx: write")
}

// setCell writes numbers and booleans as typed cells.
func setCell(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			cell.SetInt64(n)
			return
		}
		if f, err := x.Float64(); err == nil {
			cell.SetFloat(f)
			return
		}
		cell.SetString(x.String())
	case bool:
		cell.SetBool(x)
	default:
		cell.SetString(cellText(v))
	}
}
