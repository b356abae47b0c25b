// Package config defines configuration structures for the gribslurp CLI.
//
// Layers are applied in this order, later ones winning:
//   - [Default]
//   - YAML configuration file ([LoadFromFile])
//   - .env file ([Config.LoadFromDotEnv])
//   - Environment variables with the GRIBSLURP_ prefix ([Config.LoadFromEnv])
//   - Command-line flags ([Config.Merge])
//
// # Example
//
//	source: https://data.ecmwf.int/forecasts/20240101/00z/ifs/0p25/oper/20240101000000-0h-oper-fc.grib2
//	index: https://data.ecmwf.int/forecasts/20240101/00z/ifs/0p25/oper/20240101000000-0h-oper-fc.index
//	output: out/oper-fc.grib2
//	params: [2t, 10u, 10v]
//	workers: 8
//	retry:
//	  attempts: 5
//	  backoff: 2s
//	timeouts:
//	  whole_object: 10m
package config
