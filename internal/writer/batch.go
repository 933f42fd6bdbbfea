// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from spec §4.11's batcher rules: effective rows-per-statement
// is min(batch_size, max_rows_per_statement), a batch also flushes early
// when appending the next row would exceed max_sql_bytes, and a single
// row whose own literal exceeds max_sql_bytes fails outright rather than
// being silently split (spec §8).
package writer

import "fmt"

// RowBatcher groups pre-serialized row literals ("(v1, v2, ...)") into
// statement-sized batches.
type RowBatcher struct {
	MaxRows  int
	MaxBytes int
}

// Batches partitions rows into groups, flushing whenever the next row
// would exceed either cap. A row whose own literal exceeds MaxBytes can
// never fit any batch and is rejected with an explicit error instead of
// being given its own oversized batch.
func (b RowBatcher) Batches(rows []string) ([][]string, error) {
	maxRows := b.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	var batches [][]string
	var cur []string
	curBytes := 0
	for i, row := range rows {
		rowBytes := len(row)
		if b.MaxBytes > 0 && rowBytes > b.MaxBytes {
			return nil, fmt.Errorf("writer: row %d is too large (%d bytes exceeds max_sql_bytes %d)", i, rowBytes, b.MaxBytes)
		}
		if len(cur) > 0 && (len(cur) >= maxRows || (b.MaxBytes > 0 && curBytes+rowBytes > b.MaxBytes)) {
			batches = append(batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, row)
		curBytes += rowBytes
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}
