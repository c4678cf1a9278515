package enricher

import (
	"context"
	"fmt"
	logger "log"
	"sync"
	"time"
)

// recordBatchProcessor handles one batch of raw stream record payloads to completion
type recordBatchProcessor interface {
	processBatch(ctx context.Context, payloads [][]byte) *batchSummary
}

// runBatchLoop collects payloads into batches and hands each to processor.
// A batch is processed when it reaches maxRecords or batchWindow has passed since the last flush.
// On shutdownSignal any payloads already received are processed before returning
func runBatchLoop(log *logger.Logger,
	wg *sync.WaitGroup,
	processor recordBatchProcessor,
	payloads <-chan []byte,
	maxRecords int,
	batchWindow time.Duration,
	shutdownSignal chan bool) {
	defer wg.Done()

	ticker := time.NewTicker(batchWindow)
	defer ticker.Stop()

	batch := make([][]byte, 0, maxRecords)
	flush := func() {
		ticker.Reset(batchWindow)
		if len(batch) == 0 {
			return
		}
		processor.processBatch(context.Background(), batch)
		batch = make([][]byte, 0, maxRecords)
	}

	for {
		select {
		case payload, ok := <-payloads:
			if !ok {
				log.Printf("record channel closed, exiting batch loop")
				flush()
				return
			}
			batch = append(batch, payload)
			if len(batch) >= maxRecords {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-shutdownSignal:
			log.Printf("ending batch loop on shutdown signal, draining received records")
			batch = append(batch, drainPayloads(payloads)...)
			for len(batch) > maxRecords {
				remaining := batch[maxRecords:]
				batch = batch[:maxRecords]
				flush()
				batch = remaining
			}
			flush()
			log.Printf("exiting batch loop")
			return
		}
	}
}

// drainPayloads returns every payload currently buffered in payloads without blocking
func drainPayloads(payloads <-chan []byte) [][]byte {
	drained := make([][]byte, 0)
	for {
		select {
		case payload, ok := <-payloads:
			if !ok {
				return drained
			}
			drained = append(drained, payload)
		default:
			return drained
		}
	}
}

//fmtDuration returns a string presentation of time.Duration for logging
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	mill := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d.%03d", m, s, mill)
}
