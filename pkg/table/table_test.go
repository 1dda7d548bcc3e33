package table

import (
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

func seriesTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(
		Column{Name: "date", Type: TypeString},
		Column{Name: "value", Type: TypeFloat},
	)
	require.NoError(t, err)
	return tbl
}

func TestNewRejectsBadColumns(t *testing.T) {
	_, err := New(Column{Name: "", Type: TypeString})
	require.Error(t, err)

	_, err = New(
		Column{Name: "a", Type: TypeString},
		Column{Name: "a", Type: TypeInt},
	)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAppendRowTypeChecked(t *testing.T) {
	tbl := seriesTable(t)

	require.NoError(t, tbl.AppendRow("2020-01-01", 1.5))
	require.NoError(t, tbl.AppendRow("2020-02-01", nil), "nil is allowed in any column")

	err := tbl.AppendRow("2020-03-01", "not a float")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value")

	err = tbl.AppendRow("only one")
	require.Error(t, err, "arity mismatch")

	assert.Equal(t, 2, tbl.NumRows())
}

func TestAccessors(t *testing.T) {
	tbl := seriesTable(t)
	require.NoError(t, tbl.AppendRow("2020-01-01", 1.0))
	require.NoError(t, tbl.AppendRow("2020-02-01", 2.0))

	assert.Equal(t, []string{"date", "value"}, tbl.ColumnNames())
	assert.Equal(t, 2, tbl.NumColumns())
	assert.False(t, tbl.IsEmpty())

	v, err := tbl.Value(1, "value")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	col, err := tbl.ColumnValues("date")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"2020-01-01", "2020-02-01"}, col)

	_, err = tbl.Value(0, "missing")
	require.Error(t, err)
	_, err = tbl.Row(5)
	require.Error(t, err)
}

func TestEmptyTableIsValid(t *testing.T) {
	tbl := Empty()
	assert.True(t, tbl.IsEmpty())
	assert.Equal(t, 0, tbl.NumColumns())
	assert.NotNil(t, tbl)
}

func TestRowsAreCopies(t *testing.T) {
	tbl := seriesTable(t)
	values := []interface{}{"2020-01-01", 1.0}
	require.NoError(t, tbl.AppendRow(values...))

	values[1] = 99.0
	got, err := tbl.Value(0, "value")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	row, err := tbl.Row(0)
	require.NoError(t, err)
	row[0] = "mutated"
	got, err = tbl.Value(0, "date")
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", got)
}

func TestJSONRoundTrip(t *testing.T) {
	tbl, err := New(
		Column{Name: "date", Type: TypeString},
		Column{Name: "count", Type: TypeInt},
		Column{Name: "rate", Type: TypeFloat},
		Column{Name: "final", Type: TypeBool},
	)
	require.NoError(t, err)
	require.NoError(t, tbl.AppendRow("2020-01-01", int64(12), 0.5, true))
	require.NoError(t, tbl.AppendRow("2020-02-01", nil, 0.7, false))

	data, err := gojson.Marshal(tbl)
	require.NoError(t, err)

	var restored Table
	require.NoError(t, gojson.Unmarshal(data, &restored))

	assert.Equal(t, tbl.ColumnNames(), restored.ColumnNames())
	assert.Equal(t, 2, restored.NumRows())

	count, err := restored.Value(0, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(12), count, "int columns survive the float64 JSON detour")

	rate, err := restored.Value(1, "rate")
	require.NoError(t, err)
	assert.Equal(t, 0.7, rate)
}

func TestEmptyTableJSONRoundTrip(t *testing.T) {
	tbl := seriesTable(t)

	data, err := gojson.Marshal(tbl)
	require.NoError(t, err)

	var restored Table
	require.NoError(t, gojson.Unmarshal(data, &restored))
	assert.True(t, restored.IsEmpty())
	assert.Equal(t, []string{"date", "value"}, restored.ColumnNames())
}

func TestRender(t *testing.T) {
	tbl := seriesTable(t)
	require.NoError(t, tbl.AppendRow("2020-01-01", 1.0))

	out := tbl.Render()
	assert.Contains(t, out, "DATE")
	assert.Contains(t, out, "2020-01-01")
}

func TestString(t *testing.T) {
	tbl := seriesTable(t)
	assert.Equal(t, "table(2 columns, 0 rows)", tbl.String())
}
