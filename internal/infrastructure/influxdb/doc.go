// Package influxdb provides InfluxDB connectivity for the irrigation service.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes, Flux queries and health monitoring.
//
// # Purpose
//
// This package handles time-series data for:
//   - Plant sensor readings (soil moisture, temperature, humidity, light)
//   - Delivered irrigation events
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "garden",
//	    Bucket:  "irrigation",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading(reading)
//	rows, err := client.Query(ctx, flux)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a callback.
// Connection, query and health check errors are returned directly.
package influxdb
