// Package extract turns a row stream into the wire format every loader
// expects: UTF-8 CSV with a BOM and header row, gzip-compressed.
package extract

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// OpenCSVGzip streams the rows as compressed CSV. The returned reader pulls
// rows from the cursor only as the consumer reads, so a slow destination
// applies backpressure upstream to the database instead of buffering the
// result set. Closing the reader early releases the cursor.
func OpenCSVGzip(stream replication.RowStream, columns []string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		err := write(pw, stream, columns)
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	return &pipeStream{pr: pr, stream: stream}
}

func write(pw *io.PipeWriter, stream replication.RowStream, columns []string) error {
	gz := gzip.NewWriter(pw)
	if _, err := gz.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	w := csv.NewWriter(gz)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for stream.Next() {
		row := stream.Row()
		for i, col := range columns {
			record[i] = formatValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("read source stream: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

type pipeStream struct {
	pr     *io.PipeReader
	stream replication.RowStream
}

func (p *pipeStream) Read(buf []byte) (int, error) {
	return p.pr.Read(buf)
}

func (p *pipeStream) Close() error {
	// Unblocks the writer goroutine, which then closes the cursor.
	return p.pr.Close()
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
