// Package config loads and validates Hanibi Core configuration.
//
// Configuration comes from a YAML file, with environment variable
// overrides (HANIBI_SECTION_KEY) applied on top and defaults filled in
// for anything unset. It is loaded once at startup.
//
// Secrets such as the MQTT password and the InfluxDB token belong in
// the environment, not the file; the file itself should be mode 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
