// SPDX-License-Identifier: GPL-3.0-or-later

package pool

import "github.com/hugr-lab/mssql-extension/internal/encoding"

// encodeBatchText encodes sql as the UTF-16LE body of an SQLBatch packet.
// A real batch also prepends an ALL_HEADERS block when a transaction
// descriptor is pinned; sp_reset_connection always runs outside any
// transaction, so no header block is needed here.
func encodeBatchText(sql string) ([]byte, error) {
	return encoding.EncodeUTF16LE(sql)
}
