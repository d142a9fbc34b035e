package odbc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resultSetsBufferedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odbcbuf_result_sets_buffered_total",
		Help: "counter for number of result sets fully materialized in memory",
	})
	rowsBufferedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odbcbuf_rows_buffered_total",
		Help: "counter for number of rows materialized into buffered result sets",
	})
	bytesBufferedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odbcbuf_bytes_buffered_total",
		Help: "counter for number of bytes accounted against the buffered query limit",
	})
	bufferLimitExceededCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odbcbuf_buffer_limit_exceeded_total",
		Help: "counter for number of buffered result sets discarded for exceeding the memory limit",
	})
)
