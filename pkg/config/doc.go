// Package config loads the stacker configuration file.
//
// The file is YAML. Every section is optional and falls back to Default:
//
//	telemetry:
//	  logging: {level: debug, format: json}
//	  metrics: {enabled: true, listen_address: ":9090"}
//	store:
//	  driver: sqlite
//	  path: /var/lib/stacker/stacker.db
//	scheduler:
//	  poll_interval: 2s
//	  timeout: 30m
//	fetch:
//	  timeout: 10s
//	  max_size: 524288
//	cloud:
//	  simulate: true
//
// Unknown keys are rejected. Watcher re-runs a callback when a file changes
// and backs `stacker update --watch`.
package config
