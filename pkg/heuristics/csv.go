package heuristics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ImportCSV appends addresses read from r to reg and returns how many were
// added. Expected format: role,label,address (e.g. "cex,binance,0x28c6...").
// A header row is skipped, as are rows with an unknown role or an empty
// address.
func ImportCSV(r io.Reader, reg *Registry) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	added := 0
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return added, fmt.Errorf("%w: csv line %d: %v", ErrMalformed, line, err)
		}
		if len(record) < 3 {
			continue
		}

		role := Role(strings.ToLower(strings.TrimSpace(record[0])))
		label := strings.TrimSpace(record[1])
		addr := strings.TrimSpace(record[2])
		if addr == "" || label == "" {
			continue
		}

		switch role {
		case RoleCEX:
			reg.PushCEX(label, addr)
		case RoleBridge:
			reg.PushBridge(label, addr)
		default:
			// Header or unsupported role
			continue
		}
		added++
	}
	return added, nil
}
