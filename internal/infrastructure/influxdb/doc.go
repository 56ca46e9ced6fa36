// Package influxdb records RFM uplink telemetry in InfluxDB.
//
// It wraps the influxdb-client-go v2 library. When enabled, every reading
// the gateway publishes northbound is also written as a point in the
// "rfm_reading" measurement, and node signal strength reports go to
// "rfm_signal". The integration is optional and disabled by default.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading(5, 48, "real", "21.50")
//
// Writes are non-blocking and batched (batch_size, flush_interval in
// seconds). Asynchronous write failures are reported through SetOnError.
package influxdb
