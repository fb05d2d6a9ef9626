package labels

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Matrix is a dense binary indicator table, one row per record and one
// column per fitted label.
type Matrix struct {
	rows, cols int
	data       []uint8
	unknown    int
}

func newMatrix(rows, cols int) *Matrix {
	return &Matrix{rows: rows, cols: cols, data: make([]uint8, rows*cols)}
}

func (m *Matrix) set(row, col int) {
	m.data[row*m.cols+col] = 1
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// At returns the indicator at (row, col).
func (m *Matrix) At(row, col int) uint8 {
	return m.data[row*m.cols+col]
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []uint8 {
	out := make([]uint8, m.cols)
	copy(out, m.data[i*m.cols:(i+1)*m.cols])
	return out
}

// Dense returns a copy of the matrix as a slice of rows.
func (m *Matrix) Dense() [][]uint8 {
	out := make([][]uint8, m.rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Unknown returns how many label ids were dropped during encoding because
// they were not in the fitted universe.
func (m *Matrix) Unknown() int { return m.unknown }

// LabelCounts returns per-column sums.
func (m *Matrix) LabelCounts() []int {
	counts := make([]int, m.cols)
	for r := 0; r < m.rows; r++ {
		for c := 0; c < m.cols; c++ {
			counts[c] += int(m.At(r, c))
		}
	}
	return counts
}

// WriteCSV writes the matrix with the encoder's classes as the header row.
func (m *Matrix) WriteCSV(w io.Writer, enc *Encoder) error {
	cw := csv.NewWriter(w)

	header := make([]string, enc.Len())
	for i, id := range enc.classes {
		header[i] = strconv.Itoa(id)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, m.cols)
	for r := 0; r < m.rows; r++ {
		for c := 0; c < m.cols; c++ {
			row[c] = strconv.Itoa(int(m.At(r, c)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
