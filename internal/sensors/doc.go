// Package sensors supplies plant data to the automation engine and the
// schedule optimizer.
//
// Readings arrive from field sensors on irrigation/sensors/{plant}. The
// Ingestor writes each one to InfluxDB and keeps the latest per plant in
// memory. Service answers queries by combining:
//
//   - plant profiles from SQLite (plants table)
//   - latest and hourly history readings from InfluxDB (Flux)
//   - delivered irrigations from the automation history table
//
// Service implements automation.SensorDataProvider and optimizer.DataSource.
package sensors
