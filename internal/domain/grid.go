package domain

import "fmt"

// Grid is an immutable snapshot of a sheet's cell values, rows by columns,
// 0-indexed. Rows may be ragged; Cell treats indices past a row's length
// as empty strings, which makes the grid rectangular by padding.
type Grid [][]string

// Cell returns the value at (row, col), or "" if either index is outside
// the snapshot.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) {
		return ""
	}
	r := g[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// Rows returns the number of rows in the snapshot
func (g Grid) Rows() int {
	return len(g)
}

// ColumnLetter converts a 0-based column index to its A1-style letter
// (0 -> A, 25 -> Z, 26 -> AA)
func ColumnLetter(col int) string {
	if col < 0 {
		return fmt.Sprintf("?(%d)", col)
	}
	var letters []byte
	for col >= 0 {
		letters = append([]byte{byte('A' + col%26)}, letters...)
		col = col/26 - 1
	}
	return string(letters)
}

// A1 converts 0-based (row, col) to A1 notation (0,0 -> A1)
func A1(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row+1)
}
