package capture

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Columns of a logic analyzer CSV export, zero based.
type Columns struct {
	Time, CS, MOSI, MISO, CLK int
}

// DefaultColumns matches an export with channels ordered CS, MOSI, MISO, CLK.
var DefaultColumns = Columns{Time: 0, CS: 1, MOSI: 2, MISO: 3, CLK: 4}

// ReadCSV reads a logic analyzer CSV export with a header row and samples
// SPI mode 0 transactions from it.
func ReadCSV(r io.Reader, cols Columns) ([]Tx, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv")
	} else if len(records) == 0 {
		return nil, errors.New("empty csv")
	}
	return ParseRecords(records[1:], cols)
}

// ParseRecords samples both data lines on each rising clock edge while chip
// select is low, most significant bit first.
func ParseRecords(records [][]string, cols Columns) ([]Tx, error) {
	var (
		txs          []Tx
		cur          Tx
		mosi, miso   uint8
		bits         uint8
		prevCS       = 1
		prevCLK      int
		width        = max(cols.CS, cols.MOSI, cols.MISO, cols.CLK) + 1
		haveTimeCols = cols.Time >= 0
	)
	for i, record := range records {
		if len(record) < width {
			return nil, errors.Errorf("record %d: want %d columns, got %d", i+2, width, len(record))
		}
		cs, err1 := strconv.Atoi(record[cols.CS])
		sdo, err2 := strconv.Atoi(record[cols.MOSI])
		sdi, err3 := strconv.Atoi(record[cols.MISO])
		clk, err4 := strconv.Atoi(record[cols.CLK])
		for _, err := range []error{err1, err2, err3, err4} {
			if err != nil {
				return nil, errors.Wrapf(err, "record %d", i+2)
			}
		}

		if prevCS == 1 && cs == 0 {
			cur = Tx{}
			if haveTimeCols {
				cur.Start, _ = strconv.ParseFloat(record[cols.Time], 64)
			}
			mosi, miso, bits = 0, 0, 0
		}
		if cs == 0 && prevCLK == 0 && clk == 1 {
			mosi = mosi<<1 | uint8(sdo&1)
			miso = miso<<1 | uint8(sdi&1)
			bits++
			if bits == 8 {
				cur.MOSI = append(cur.MOSI, mosi)
				cur.MISO = append(cur.MISO, miso)
				mosi, miso, bits = 0, 0, 0
			}
		}
		if prevCS == 0 && cs == 1 && len(cur.MOSI) > 0 {
			txs = append(txs, cur)
		}
		prevCS = cs
		prevCLK = clk
	}
	return txs, nil
}
