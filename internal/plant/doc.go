// Package plant holds the value types shared by the automation engine, the
// schedule optimizer and their data providers: plant profiles, sensor
// readings, watering events and daily weather forecasts.
package plant
