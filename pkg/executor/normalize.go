package executor

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/table"
)

// envelopeKeys are the field names upstream APIs commonly wrap record
// arrays in. When a JSON object carries one of these with an array value,
// normalization descends into it.
var envelopeKeys = []string{"data", "observations", "results", "records", "series", "items", "rows"}

// Normalize converts an upstream response body into a Table. The wire
// format is chosen from the Content-Type, falling back to sniffing the
// body. A well-formed response with no records yields an empty table.
func Normalize(contentType string, body []byte) (*table.Table, error) {
	switch detectFormat(contentType, body) {
	case "json":
		return normalizeJSON(body)
	case "xml":
		return normalizeXML(body)
	case "csv":
		return normalizeCSV(body)
	default:
		return nil, errors.Newf(errors.ErrorTypeUpstream,
			"unsupported response format %q", contentType)
	}
}

// detectFormat maps a Content-Type onto a normalizer, sniffing the body
// when the header is missing or generic.
func detectFormat(contentType string, body []byte) string {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case strings.Contains(mediaType, "json"):
		return "json"
	case strings.Contains(mediaType, "xml"):
		return "xml"
	case strings.Contains(mediaType, "csv"):
		return "csv"
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return "json"
	case trimmed[0] == '{' || trimmed[0] == '[':
		return "json"
	case trimmed[0] == '<':
		return "xml"
	}
	return ""
}

// normalizeJSON handles the three JSON shapes upstreams produce: a bare
// array of records, an envelope object wrapping one, or a single record
// object. Anything else that parses yields an empty table.
func normalizeJSON(body []byte) (*table.Table, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return table.Empty(), nil
	}

	var doc interface{}
	if err := gojson.Unmarshal(trimmed, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpstream, "response is not valid JSON")
	}

	records := extractRecords(doc)
	return tableFromRecords(records)
}

// extractRecords finds the record list inside a decoded JSON document.
func extractRecords(doc interface{}) []map[string]interface{} {
	switch v := doc.(type) {
	case []interface{}:
		return asRecords(v)
	case map[string]interface{}:
		for _, key := range envelopeKeys {
			if arr, ok := v[key].([]interface{}); ok {
				return asRecords(arr)
			}
		}
		// Any array-of-objects field qualifies as the record list when no
		// conventional envelope key is present, picked deterministically.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if arr, ok := v[k].([]interface{}); ok {
				if recs := asRecords(arr); recs != nil {
					return recs
				}
			}
		}
		// A single record object becomes a one-row table.
		if len(v) > 0 {
			return []map[string]interface{}{v}
		}
	}
	return nil
}

// asRecords converts a JSON array to records if every element is an object.
func asRecords(arr []interface{}) []map[string]interface{} {
	if len(arr) == 0 {
		return []map[string]interface{}{}
	}
	records := make([]map[string]interface{}, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]interface{})
		if !ok {
			return nil
		}
		records = append(records, obj)
	}
	return records
}

// tableFromRecords builds a table over the union of record keys, sorted
// for determinism. Column types are inferred from the first non-nil value;
// later values of a different type are coerced to strings so every column
// stays consistently typed.
func tableFromRecords(records []map[string]interface{}) (*table.Table, error) {
	if len(records) == 0 {
		return table.Empty(), nil
	}

	keySet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]table.Column, len(keys))
	for i, k := range keys {
		columns[i] = table.Column{Name: k, Type: inferType(records, k)}
	}

	tbl, err := table.New(columns...)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			row[i] = conform(columns[i].Type, rec[k])
		}
		if err := tbl.AppendRow(row...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "assembling rows")
		}
	}
	return tbl, nil
}

// inferType picks a column type from the first non-nil value under key.
func inferType(records []map[string]interface{}, key string) table.ColumnType {
	for _, rec := range records {
		switch rec[key].(type) {
		case nil:
			continue
		case float64:
			return table.TypeFloat
		case bool:
			return table.TypeBool
		case string:
			return table.TypeString
		default:
			return table.TypeString
		}
	}
	return table.TypeString
}

// conform fits a decoded JSON value to the declared column type, falling
// back to a string rendering on mismatch or nested structure.
func conform(ct table.ColumnType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch ct {
	case table.TypeFloat:
		if f, ok := v.(float64); ok {
			return f
		}
	case table.TypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case table.TypeString:
		if s, ok := v.(string); ok {
			return s
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// xmlRecord is one repeated element under the XML document root; child
// element names become columns.
type xmlRecord map[string]string

// normalizeXML flattens the repeated children of the document root into
// rows, one column per child element or attribute. All values are strings.
func normalizeXML(body []byte) (*table.Table, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var records []xmlRecord
	depth := 0
	var current xmlRecord
	var field string
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUpstream, "response is not valid XML")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 2:
				current = xmlRecord{}
				for _, attr := range t.Attr {
					current[attr.Name.Local] = attr.Value
				}
			case 3:
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 3 {
				text.Write(t)
			}
		case xml.EndElement:
			switch depth {
			case 2:
				if current != nil {
					records = append(records, current)
					current = nil
				}
			case 3:
				current[field] = strings.TrimSpace(text.String())
			}
			depth--
		}
	}

	if len(records) == 0 {
		return table.Empty(), nil
	}

	keySet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]table.Column, len(keys))
	for i, k := range keys {
		columns[i] = table.Column{Name: k, Type: table.TypeString}
	}
	tbl, err := table.New(columns...)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			if v, ok := rec[k]; ok {
				row[i] = v
			}
		}
		if err := tbl.AppendRow(row...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "assembling rows")
		}
	}
	return tbl, nil
}

// normalizeCSV treats the first row as the header and every column as a
// string. Ragged rows are an upstream defect and rejected.
func normalizeCSV(body []byte) (*table.Table, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpstream, "response is not valid CSV")
	}
	if len(rows) == 0 {
		return table.Empty(), nil
	}

	header := rows[0]
	columns := make([]table.Column, len(header))
	for i, name := range header {
		columns[i] = table.Column{Name: strings.TrimSpace(name), Type: table.TypeString}
	}
	tbl, err := table.New(columns...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpstream, "response header is not usable")
	}

	for _, rec := range rows[1:] {
		if len(rec) != len(header) {
			return nil, errors.Newf(errors.ErrorTypeUpstream,
				"row has %d fields, header has %d", len(rec), len(header))
		}
		row := make([]interface{}, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		if err := tbl.AppendRow(row...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "assembling rows")
		}
	}
	return tbl, nil
}
