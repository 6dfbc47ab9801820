package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"
)

// Row is one record of a Flux result.
type Row struct {
	Time  time.Time
	Field string
	Value float64
	Tags  map[string]string
}

// Query runs a Flux query and returns its numeric records in result order.
// Records whose value is not numeric are skipped.
func (c *Client) Query(ctx context.Context, flux string) ([]Row, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		if row, ok := rowFromRecord(result.Record()); ok {
			rows = append(rows, row)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return rows, nil
}

func rowFromRecord(rec *query.FluxRecord) (Row, bool) {
	v, ok := toFloat(rec.Value())
	if !ok {
		return Row{}, false
	}

	tags := make(map[string]string)
	for k, val := range rec.Values() {
		if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
			continue
		}
		if s, ok := val.(string); ok {
			tags[k] = s
		}
	}
	return Row{Time: rec.Time(), Field: rec.Field(), Value: v, Tags: tags}, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// String quotes s as a Flux string literal.
func String(s string) string {
	return strconv.Quote(s)
}
