// Package records defines the flat row shapes shared by readers, the
// transformation engine, the merge loop and the output writers.
//
// All values are text. A missing key and an empty string are both treated as
// "no value" by the merge loop; readers never emit nil.
package records

// Row maps column name to cell text. Source rows and merged rows share this
// shape but use different key sets.
type Row map[string]string

// Get returns the value for col and whether the key was present.
func (r Row) Get(col string) (string, bool) {
	v, ok := r[col]
	return v, ok
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is a decoded file: the header row plus every data row, in file order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Values returns the cells of row i aligned to t.Columns.
func (t Table) Values(i int) []string {
	out := make([]string, len(t.Columns))
	if i < 0 || i >= len(t.Rows) {
		return out
	}
	r := t.Rows[i]
	for j, c := range t.Columns {
		out[j] = r[c]
	}
	return out
}

// Record is one decoded source row as it leaves a streaming reader.
type Record struct {
	// Line is the 1-based position in the source: the CSV line or the JSON
	// element number.
	Line int
	// Keys lists the row's keys in source order for formats without a
	// header row.
	Keys []string
	Row  Row
}
