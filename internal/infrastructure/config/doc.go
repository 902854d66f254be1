// Package config handles loading and validating Transponder configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (TRANSPONDER_*)
//   - Per-host sections selected by host name
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (MQTT password, JWT secret, InfluxDB token) should be
//     set via environment variables or a .env file
//   - The config file holds station PINs and should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Host.Name)
package config
