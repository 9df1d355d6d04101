package client

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

func observeOperation(op string, err error, took time.Duration) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_client_requests_total{op=%q}`, op)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`rkv_client_request_duration_seconds{op=%q}`, op)).Update(took.Seconds())
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_client_errors_total{op=%q,code="%d"}`, op, store.CodeOf(err))).Inc()
	}
}

func observeRetry(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_client_retries_total{op=%q}`, op)).Inc()
}
