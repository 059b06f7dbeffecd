// Package config loads fleet definitions and workspace settings.
//
// # Overview
//
// Fleet definitions are CUE or YAML documents that declare realms, clusters,
// facets and servers. CUEParser validates each document against the built-in
// fleet schema and decodes it into the entity model. Problems are collected
// as ValidationError values with file, line and column rather than stopping
// at the first one.
//
// Workspace settings live in ironfleet.toml and select the directory
// backend, the store location, orchestrator tuning, policies and telemetry.
//
// # Definition Structure
//
// Every collection may be written as a map keyed by name or as a list of
// entries that carry their own name:
//
//	defaults: environment: "production"
//
//	realms: prod: {
//	    run_list: ["role[base]"]
//	    clusters: web: {
//	        cloud: {cloud_name: "hcloud", region: "fsn1"}
//	        facets: app: {
//	            instances: 3
//	            run_list: [{name: "nginx", placement: "first"}]
//	        }
//	    }
//	}
//
// The same document in YAML:
//
//	realms:
//	  prod:
//	    clusters:
//	      web:
//	        facets:
//	          app:
//	            instances: 3
//
// Map order follows source order for CUE and key order for YAML. Facet
// names may not contain hyphens and server names are numeric.
//
// # Settings
//
//	definitions = ["fleet"]
//
//	[directory]
//	backend = "sqlite"
//
//	[sync]
//	concurrency = 8
//	base_backoff = "1s"
//
// Relative paths resolve against the settings file's directory.
package config
