// Package export serializes accumulated reviews to the CSV wire format.
//
// The format is fixed: UTF-8 with a leading byte-order mark (spreadsheet
// tools need it to render the star glyphs), a fixed header row, text columns
// double-quoted with embedded quotes doubled, and the Page/Verified columns
// bare. One row per record, in accumulation order.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const header = "Star Filter,Page,ID,Author,Rating,Title,Date,Variant,Verified,Review Body"

// Serialize renders records as CSV bytes. It is a pure function of the
// record sequence: same input order, same bytes.
func Serialize(records []schemas.Review) []byte {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	buf.WriteString(header)
	buf.WriteByte('\n')

	for _, r := range records {
		writeQuoted(&buf, r.FilterPartition)
		buf.WriteByte(',')
		buf.WriteString(pageColumn(r.PageIndex))
		buf.WriteByte(',')
		writeQuoted(&buf, r.ID)
		buf.WriteByte(',')
		writeQuoted(&buf, r.Author)
		buf.WriteByte(',')
		writeQuoted(&buf, r.RatingLabel)
		buf.WriteByte(',')
		writeQuoted(&buf, r.Title)
		buf.WriteByte(',')
		writeQuoted(&buf, r.Date)
		buf.WriteByte(',')
		writeQuoted(&buf, r.VariantLabel)
		buf.WriteByte(',')
		if r.Verified {
			buf.WriteString("Yes")
		} else {
			buf.WriteString("No")
		}
		buf.WriteByte(',')
		writeQuoted(&buf, r.BodyText)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Parse reads CSV bytes produced by Serialize back into records. Together
// with Serialize it round-trips: Serialize(Parse(Serialize(r))) equals
// Serialize(r).
func Parse(data []byte) ([]schemas.Review, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 10

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}
	if got := strings.Join(rows[0], ","); got != header {
		return nil, fmt.Errorf("unexpected header row: %q", got)
	}

	records := make([]schemas.Review, 0, len(rows)-1)
	for _, row := range rows[1:] {
		page := 0
		if row[1] != "N/A" {
			page, err = strconv.Atoi(row[1])
			if err != nil {
				return nil, fmt.Errorf("invalid page column %q: %w", row[1], err)
			}
		}
		records = append(records, schemas.Review{
			FilterPartition: row[0],
			PageIndex:       page,
			ID:              row[2],
			Author:          row[3],
			RatingLabel:     row[4],
			Title:           row[5],
			Date:            row[6],
			VariantLabel:    row[7],
			Verified:        row[8] == "Yes",
			BodyText:        row[9],
		})
	}
	return records, nil
}

// WriteFile serializes records to path.
func WriteFile(path string, records []schemas.Review) error {
	if err := os.WriteFile(path, Serialize(records), 0o644); err != nil {
		return fmt.Errorf("write csv file: %w", err)
	}
	return nil
}

// pageColumn renders the bare Page value: the 1-based page number, or N/A
// when the record predates page tracking.
func pageColumn(page int) string {
	if page < 1 {
		return "N/A"
	}
	return strconv.Itoa(page)
}

// writeQuoted emits a double-quoted field with embedded quotes doubled and
// newlines collapsed to spaces, keeping every record on one physical row.
func writeQuoted(buf *bytes.Buffer, field string) {
	field = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(field)
	buf.WriteByte('"')
	buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
	buf.WriteByte('"')
}
