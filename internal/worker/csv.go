package worker

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// csvRow is one parsed recipient row, keyed by its header-derived
// column names.
type csvRow map[string]string

// loadCSV implements §4.4 Step 4: detect encoding from the whole
// content (UTF-8 with optional BOM, falling back to Latin-1 if
// UTF-8 decoding would yield replacement characters), parse the
// header row, and return the header and every data row; the row
// count is len(rows).
func loadCSV(r io.Reader) (header []string, rows []csvRow, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("worker: read csv: %w", err)
	}

	raw = decodeBytes(raw)

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("worker: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header = records[0]
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	rows = make([]csvRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(csvRow, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

// decodeBytes strips a UTF-8 BOM if present and, when the remaining
// bytes are not valid UTF-8 (decoding would surface replacement
// characters), re-decodes them as Latin-1 (ISO-8859-1) — the
// single-byte-per-rune fallback encoding spec §4.4 calls for.
func decodeBytes(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	if utf8.Valid(raw) {
		return raw
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Nothing better to fall back to; hand back the raw bytes and
		// let csv.Reader surface any decode error downstream.
		return raw
	}
	return decoded
}

// emailColumn finds the "email" header, case-insensitively.
func emailColumn(header []string) string {
	for _, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "email") {
			return h
		}
	}
	return ""
}
