package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedMock(t *testing.T) (*TracedPool, pgxmock.PgxPoolIface, *tracetest.SpanRecorder) {
	t.Helper()
	mock := newMock(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracedPool(mock, tp.Tracer("test")), mock, recorder
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestTracedPool_Exec(t *testing.T) {
	pool, mock, recorder := newTracedMock(t)

	mock.ExpectExec("UPDATE active_pairs").WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	tag, err := pool.Exec(context.Background(), "UPDATE   active_pairs\n\tSET status = 'CLOSED'")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tag.RowsAffected())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.exec", spans[0].Name())
	assert.Equal(t, "UPDATE active_pairs SET status = 'CLOSED'", attr(spans[0], "db.statement").AsString())
	assert.Equal(t, int64(3), attr(spans[0], "db.rows_affected").AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracedPool_QueryError(t *testing.T) {
	pool, mock, recorder := newTracedMock(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

	_, err := pool.Query(context.Background(), "SELECT 1")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.query", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "postgresql", attr(spans[0], "db.system").AsString())
}

func TestTracedPool_QueryRowAndTruncation(t *testing.T) {
	pool, mock, recorder := newTracedMock(t)

	long := "SELECT " + strings.Repeat("x, ", 200) + "1"
	mock.ExpectQuery("SELECT").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))

	var n int
	require.NoError(t, pool.QueryRow(context.Background(), long).Scan(&n))
	assert.Equal(t, 1, n)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Len(t, attr(spans[0], "db.statement").AsString(), maxStatementLength)
}
