package pool

import (
	dsqldriver "database/sql/driver"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/icgo-zdb/zdb/zdberr"
	"github.com/icgo-zdb/zdb/zdbdriver"
)

// sqliteTimeLayouts are the formats modernc.org/sqlite's driver returns
// for TEXT-affinity timestamp columns, tried in order (spec.md §4.5:
// "SQLite interprets the column as an integer Unix time or a parsed
// ISO-8601 string").
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DateTime is the broken-down calendar representation returned by
// ResultSet.GetDatetime (spec.md §4.5): a literal year, a zero-based
// month, and a seconds field that may read 60 for a leap second.
type DateTime struct {
	Year         int
	Month        int // 0..11
	Day          int
	Hour         int
	Minute       int
	Second       int // 0..60
	UTCOffsetSec *int
}

// ResultSet is a forward-only cursor over the rows of the last query run
// on its Connection. It starts positioned before the first row and is
// invalidated by the next execute/executeQuery on the same connection or
// by the connection's return to the pool (spec.md §4.5).
type ResultSet struct {
	conn    *Connection
	rows    zdbdriver.Rows
	cols    []string
	current []dsqldriver.Value
	before  bool
	done    bool
	valid   bool
}

func newResultSet(c *Connection, rows zdbdriver.Rows) *ResultSet {
	return &ResultSet{
		conn:   c,
		rows:   rows,
		cols:   rows.Columns(),
		before: true,
		valid:  true,
	}
}

// ColumnCount returns the number of columns in the result.
func (r *ResultSet) ColumnCount() int { return len(r.cols) }

// SetFetchSize hints the batch size the backend should prefetch on
// subsequent Next calls (spec.md §4.5/§4.2), for backends that prefetch
// (MySQL, Oracle). n must be >= 1. Backends whose Rows doesn't implement
// zdbdriver.FetchSizer (every adapter in this module today, since
// database/sql/driver.Rows has no such hook) silently ignore the hint —
// each getter already allocates on demand rather than relying on a batch
// fetched ahead of time, so correctness never depends on this call.
func (r *ResultSet) SetFetchSize(n int) error {
	if n < 1 {
		zdberr.Assert("fetch_size must be >= 1, got %d", n)
		return nil
	}
	if fs, ok := r.rows.(zdbdriver.FetchSizer); ok {
		return fs.SetFetchSize(n)
	}
	return nil
}

// ColumnName returns the name of the 1-based column i.
func (r *ResultSet) ColumnName(i int) (string, error) {
	if err := r.checkIndex(i); err != nil {
		return "", err
	}
	return r.cols[i-1], nil
}

// Next advances the cursor to the next row. It returns false (with a nil
// error) once the rows are exhausted.
func (r *ResultSet) Next() (bool, error) {
	if !r.valid {
		return false, zdberr.New("next: result set is no longer valid")
	}
	if r.done {
		return false, nil
	}

	dest := make([]dsqldriver.Value, len(r.cols))
	err := r.rows.Next(dest)
	if err == io.EOF {
		r.done = true
		r.current = nil
		return false, nil
	}
	if err != nil {
		return false, zdberr.Wrap(err, "can't fetch next row")
	}

	r.current = dest
	r.before = false
	return true, nil
}

// Close releases the underlying cursor early.
func (r *ResultSet) Close() error {
	if !r.valid {
		return nil
	}
	r.valid = false
	return r.rows.Close()
}

func (r *ResultSet) checkIndex(i int) error {
	if i < 1 || i > len(r.cols) {
		return zdberr.New("column index %d out of range [1,%d]", i, len(r.cols))
	}
	return nil
}

func (r *ResultSet) valueAt(i int) (dsqldriver.Value, error) {
	if !r.valid {
		return nil, zdberr.New("result set is no longer valid")
	}
	if r.before || r.done {
		return nil, zdberr.New("no current row: call Next first")
	}
	if err := r.checkIndex(i); err != nil {
		return nil, err
	}
	return r.current[i-1], nil
}

// IsNull reports whether column i of the current row is SQL null.
func (r *ResultSet) IsNull(i int) (bool, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// GetString returns column i as a string, or nil if the value is null.
// Non-null values always coerce successfully (spec.md §4.5).
func (r *ResultSet) GetString(i int) (*string, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	s := coerceString(v)
	return &s, nil
}

// GetBlob returns column i as raw bytes, or nil if the value is null.
// The returned slice is a borrowed view valid only until the next call
// to Next (spec.md §4.5).
func (r *ResultSet) GetBlob(i int) ([]byte, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return []byte(coerceString(v)), nil
	}
}

// GetInt returns column i coerced to a 32-bit integer. A null value
// reads as 0; a non-numeric, non-null value is a checked error
// (spec.md §4.5).
func (r *ResultSet) GetInt(i int) (int32, error) {
	n, err := r.getInt64(i)
	return int32(n), err
}

// GetLLong returns column i coerced to a 64-bit integer, with the same
// null/error semantics as GetInt.
func (r *ResultSet) GetLLong(i int) (int64, error) {
	return r.getInt64(i)
}

func (r *ResultSet) getInt64(i int) (int64, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return coerceInt64(v)
}

// GetDouble returns column i coerced to a float64. A null value reads as
// 0.0; a non-numeric, non-null value is a checked error.
func (r *ResultSet) GetDouble(i int) (float64, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return coerceFloat64(v)
}

// GetTimestamp returns column i as UTC seconds since the epoch. A null
// value reads as 0.
func (r *ResultSet) GetTimestamp(i int) (int64, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	t, err := coerceTime(v)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// GetDatetime returns column i as a broken-down calendar value, or nil
// if the value is null.
func (r *ResultSet) GetDatetime(i int) (*DateTime, error) {
	v, err := r.valueAt(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	t, err := coerceTime(v)
	if err != nil {
		return nil, err
	}
	_, offset := t.Zone()
	dt := &DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()) - 1,
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
	if offset != 0 || t.Location() != time.UTC {
		dt.UTCOffsetSec = &offset
	}
	return dt, nil
}

func coerceString(v dsqldriver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func coerceInt64(v dsqldriver.Value) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		if err != nil {
			return 0, zdberr.New("value %q is not an integer", string(t))
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, zdberr.New("value %q is not an integer", t)
		}
		return n, nil
	case time.Time:
		return t.Unix(), nil
	default:
		return 0, zdberr.New("value of type %T is not an integer", v)
	}
}

func coerceFloat64(v dsqldriver.Value) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return 0, zdberr.New("value %q is not a number", string(t))
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, zdberr.New("value %q is not a number", t)
		}
		return f, nil
	default:
		return 0, zdberr.New("value of type %T is not a number", v)
	}
}

func coerceTime(v dsqldriver.Value) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	default:
		return time.Time{}, zdberr.New("value of type %T is not a timestamp", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, zdberr.New("value %q is not a recognized timestamp", s)
}
