// Package model defines the fleet hierarchy: a Realm owns Clusters, a
// Cluster owns Facets, a Facet owns Servers. Every level embeds a Compute
// block (environment, run list, components, cloud settings) that the
// resolve package folds top-down into a concrete Server.
//
// Naming follows the hierarchy:
//
//	realm "prod", cluster "web"   -> cluster full name "prod-web"
//	                                 cluster role      "prod-web-cluster"
//	facet "app"                   -> facet role        "prod-web-app-facet"
//	server "3"                    -> server full name  "prod-web-app-3"
//
// Definitions are held by an explicit Registry rather than global state.
package model
