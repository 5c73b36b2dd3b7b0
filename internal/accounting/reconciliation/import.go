package reconciliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
)

// ParseTrialBalance reads "code,balance" rows. A header row whose balance column
// is not numeric is skipped, as are blank lines and lines starting with '#'.
// Codes are normalized and must be unique after normalization.
func ParseTrialBalance(r io.Reader) (map[string]decimal.Decimal, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	out := map[string]decimal.Decimal{}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reconciliation: read trial balance: %w", err)
		}
		line++
		if len(record) < 2 {
			return nil, fmt.Errorf("reconciliation: line %d: want code,balance", line)
		}
		code := accounts.NormalizeCode(record[0])
		raw := strings.ReplaceAll(strings.TrimSpace(record[1]), ",", "")
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("reconciliation: line %d: invalid balance %q", line, record[1])
		}
		if code == "" {
			return nil, fmt.Errorf("reconciliation: line %d: empty account code", line)
		}
		if _, dup := out[code]; dup {
			return nil, fmt.Errorf("reconciliation: line %d: duplicate code %s", line, code)
		}
		out[code] = amount
	}
	return out, nil
}
