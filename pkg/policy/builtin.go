package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	policies := []Policy{
		machineNamingPolicy(),
		requiredFieldsPolicy(),
		cloudPlacementPolicy(),
		productionSafeguardsPolicy(),
		driftReplacementPolicy(),
	}
	now := time.Now()
	for i := range policies {
		policies[i].Enabled = true
		policies[i].Builtin = true
		policies[i].CreatedAt = now
		policies[i].UpdatedAt = now
	}
	return policies
}

// machineNamingPolicy keeps node names splittable into cluster, facet and
// index.
func machineNamingPolicy() Policy {
	return Policy{
		Name:        "machine-naming",
		Description: "Machine names are lowercase, facet names have no hyphens and server names are numeric",
		Severity:    SeverityError,
		Tags:        []string{"naming", "conventions"},
		Rego: `package ironfleet.policies.naming

import rego.v1

deny contains violation if {
	lower(input.machine) != input.machine
	violation := {
		"message": sprintf("Machine name '%s' must be lowercase", [input.machine]),
		"severity": "error",
	}
}

deny contains violation if {
	indexof(input.manifest.facet_name, "-") != -1
	violation := {
		"message": sprintf("Facet name '%s' must not contain hyphens", [input.manifest.facet_name]),
		"severity": "error",
		"details": {"field": "facet_name"},
	}
}

deny contains violation if {
	not regex.match("^[0-9]+$", input.manifest.name)
	violation := {
		"message": sprintf("Server name '%s' must be numeric", [input.manifest.name]),
		"severity": "error",
		"details": {"field": "name"},
	}
}`,
	}
}

// requiredFieldsPolicy requires the fields a machine cannot converge
// without.
func requiredFieldsPolicy() Policy {
	return Policy{
		Name:        "required-fields",
		Description: "Machines declare an environment and a non-empty run list",
		Severity:    SeverityError,
		Tags:        []string{"compliance"},
		Rego: `package ironfleet.policies.required

import rego.v1

deny contains violation if {
	object.get(input.manifest, "environment", "") == ""
	violation := {
		"message": sprintf("Machine %s has no environment", [input.machine]),
		"severity": "error",
		"details": {"field": "environment"},
	}
}

deny contains violation if {
	count(object.get(input.manifest, "run_list", [])) == 0
	violation := {
		"message": sprintf("Machine %s has an empty run list", [input.machine]),
		"severity": "warning",
		"details": {"field": "run_list"},
	}
}`,
	}
}

// cloudPlacementPolicy checks that placed machines can actually be
// launched.
func cloudPlacementPolicy() Policy {
	return Policy{
		Name:        "cloud-placement",
		Description: "Machines with a cloud set a flavor and an image, and their zones lie in their region",
		Severity:    SeverityError,
		Tags:        []string{"cloud"},
		Rego: `package ironfleet.policies.cloud

import rego.v1

placed if object.get(input.manifest, "cloud_name", "") != ""

deny contains violation if {
	placed
	some field in ["flavor", "image_id"]
	object.get(input.manifest, field, "") == ""
	violation := {
		"message": sprintf("Machine %s on %s must set %s", [input.machine, input.manifest.cloud_name, field]),
		"severity": "error",
		"details": {"field": field},
	}
}

deny contains violation if {
	region := object.get(input.manifest, "region", "")
	region != ""
	some zone in object.get(input.manifest, "availability_zones", [])
	not startswith(zone, region)
	violation := {
		"message": sprintf("Availability zone %s of machine %s is outside region %s", [zone, input.machine, region]),
		"severity": "warning",
		"details": {"field": "availability_zones"},
	}
}`,
	}
}

// productionSafeguardsPolicy hardens production machines.
func productionSafeguardsPolicy() Policy {
	return Policy{
		Name:        "production-safeguards",
		Description: "Production machines are firewalled, monitored and not bootstrapped as root",
		Severity:    SeverityWarning,
		Tags:        []string{"safety", "production"},
		Rego: `package ironfleet.policies.production

import rego.v1

production if input.manifest.environment == "production"

deny contains violation if {
	production
	count(object.get(input.manifest, "security_groups", [])) == 0
	violation := {
		"message": sprintf("Production machine %s must belong to a security group", [input.machine]),
		"severity": "error",
		"details": {"field": "security_groups"},
	}
}

deny contains violation if {
	production
	object.get(input.manifest, "monitoring", "") == ""
	violation := {
		"message": sprintf("Production machine %s has no monitoring level", [input.machine]),
		"severity": "warning",
		"details": {"field": "monitoring"},
	}
}

deny contains violation if {
	production
	input.manifest.ssh_user == "root"
	violation := {
		"message": sprintf("Production machine %s bootstraps as root", [input.machine]),
		"severity": "warning",
		"details": {"field": "ssh_user"},
	}
}`,
	}
}

// driftReplacementPolicy flags drift that a sync cannot fix in place.
func driftReplacementPolicy() Policy {
	return Policy{
		Name:        "drift-replacement",
		Description: "Drift in placement fields requires replacing the machine",
		Severity:    SeverityWarning,
		Tags:        []string{"drift"},
		Rego: `package ironfleet.policies.drift

import rego.v1

immutable := [".cloud_name", ".region", ".availability_zones", ".image_id", ".placement_group", ".subnet", ".vpc"]

max_drifts := 10

deny contains violation if {
	some change in input.drift.drifts
	some prefix in immutable
	startswith(change.path, prefix)
	violation := {
		"message": sprintf("Drift at %s on %s requires replacing the machine", [change.path, input.machine]),
		"severity": "error",
		"details": {"path": change.path},
	}
}

deny contains violation if {
	count(input.drift.drifts) > max_drifts
	violation := {
		"message": sprintf("Machine %s drifted in %d places", [input.machine, count(input.drift.drifts)]),
		"severity": "warning",
	}
}`,
	}
}
