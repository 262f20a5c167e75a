package middle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// copyText drives a raw COPY ... FROM STDIN (text format) using the
// low-level pgconn API rather than pgx's CopyFrom/CopyFromSource
// convenience wrapper, which always speaks the binary protocol. The
// text protocol is what lets a hand-built array literal (§3, see
// pgarray.EncodeTagsCopy/EncodeIDsCopy) go straight onto the wire
// exactly as composed, the same way the original program streams COPY
// lines it built itself — grounded on copy_data_t/escape-for-copy in
// middle-pgsql.cpp.
//
// writeRows is called with a *bufio.Writer; it should write one line
// per row, tab-separating columns and ending each line with "\n". The
// line-level backslash/tab/newline/CR escaping for plain scalar fields
// is handled by copyEscape; array-literal fields should already be
// produced via the *Copy encoders in package pgarray, which perform
// their own (nested) escaping for the copy-line context.
func copyText(ctx context.Context, conn *pgconn.PgConn, table string, columns []string, writeRows func(w *bufio.Writer) error) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		bw := bufio.NewWriter(pw)
		err := writeRows(bw)
		if err == nil {
			err = bw.Flush()
		}
		pw.CloseWithError(err)
		done <- err
	}()

	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", table, strings.Join(columns, ", "))
	tag, err := conn.CopyFrom(ctx, pr, sql)
	if werr := <-done; werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// copyEscape escapes a plain scalar field (not an array literal) for
// the COPY TEXT line format: backslash, tab, newline and carriage
// return each get a leading backslash.
func copyEscape(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func formatCopyFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatCopyInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
