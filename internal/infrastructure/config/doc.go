// Package config handles loading and validating graycast configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYCAST_*)
//   - Validation of required fields, collecting every problem at once
//   - Default values, including the Chromecast receiver app IDs and the
//     model-name filters that classify discovered devices
//
// Security Considerations:
//   - Sensitive values (MQTT password, Influx token, JWT secret, YouTube key)
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cast.Discovery.Service)
package config
