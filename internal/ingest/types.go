package ingest

// Response is the raw API response from Nasdaq Data Link Tables API.
// The data is column-oriented: columns define the schema, data contains rows as arrays.
type Response struct {
	Datatable Datatable `json:"datatable"`
	Meta      struct {
		NextCursorID *string `json:"next_cursor_id"`
	} `json:"meta"`
}

// Datatable is a column-oriented table. It is the interchange shape for
// CSV files, the HTTP API and the Data Link client alike.
type Datatable struct {
	Data    [][]interface{} `json:"data"`
	Columns []Column        `json:"columns"`
}

// Column describes a column in the response.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Column types used when formatting tables.
const (
	TypeInteger = "Integer"
	TypeDate    = "Date"
	TypeDecimal = "BigDecimal"
	TypeString  = "String"
)

// ColumnNames returns the column names in table order.
func (d *Datatable) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}
