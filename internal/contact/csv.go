package contact

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Header returns the CSV column headers
func Header() []string {
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Label
	}
	return header
}

// WriteCSV writes a header row followed by one row per record.
// Only values containing commas, quotes or line breaks are quoted, so
// leading and trailing spaces survive a plain split on commas.
func WriteCSV(w io.Writer, records ...Record) error {
	bw := bufio.NewWriter(w)
	if err := writeRow(bw, Header()); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if err := writeRow(bw, r.Values()); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

func writeRow(w *bufio.Writer, values []string) error {
	for i, v := range values {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quoteField(v)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

func quoteField(v string) string {
	if !strings.ContainsAny(v, ",\"\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// FormatCSV renders a single record as the downloadable CSV document.
// The document has no trailing newline.
func FormatCSV(r Record) (string, error) {
	var b strings.Builder
	if err := WriteCSV(&b, r); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}
