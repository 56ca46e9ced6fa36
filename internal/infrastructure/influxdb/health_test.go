package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/rfm-gateway/internal/infrastructure/config"
)

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{
			name:      "defaults",
			cfg:       config.InfluxDBConfig{},
			wantBatch: defaultBatchSize,
			wantFlush: defaultFlushSeconds * 1000,
		},
		{
			name:      "configured",
			cfg:       config.InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
			wantBatch: 100,
			wantFlush: 10000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(tt.cfg)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d ms, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestHealthCheck_ReportsWriteFailure(t *testing.T) {
	c := &Client{}
	var reported error
	c.SetOnError(func(err error) { reported = err })

	c.recordWriteError(errors.New("unauthorized access"))

	if reported == nil {
		t.Error("OnError callback not invoked")
	}
	if got := c.WriteFailures(); got != 1 {
		t.Errorf("WriteFailures() = %d, want 1", got)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("HealthCheck() error = %v, want ErrWriteFailed", err)
	}
	if err := c.takeWriteError(); err != nil {
		t.Errorf("write error not cleared by HealthCheck: %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	c := &Client{}
	c.closed.Store(true)

	// No write API behind it: writes must return before touching it.
	c.WriteReading(5, 48, "real", "21.50")
	c.WriteSignal(5, -70)
	c.Flush()

	if c.IsConnected() {
		t.Error("IsConnected() = true after close")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}
