// Package config handles loading and validating irrigationd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a local .env file before environment overrides are applied
//   - Overriding with IRRIGATION_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, weather API key, JWT secret)
//     should be set via environment variables or the .env file
//   - The config file should have restricted permissions (0600)
//   - An empty JWT secret disables API authentication; only do that on a trusted network
//
// Usage:
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
