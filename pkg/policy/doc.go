// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// machine manifests and detected drift.
//
// Every policy is a Rego module defining a "deny" set. A member is either a
// message string or an object carrying "message", "severity" and optional
// "details". A violation of severity error or critical makes the result
// disallowed; warnings and info are reported only.
//
// Policies see this input document:
//
//	{
//	  "machine":  "prod-web-app-0",
//	  "manifest": { ...wire form of the machine's manifest... },
//	  "drift":    { "status": "drifted", "drifts": [{"path": ".flavor", ...}] },
//	  "context":  { "operation": "diff", "user": "ops", "dry_run": true }
//	}
//
// "drift" is only present when evaluating through EvaluateDrift.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.EvaluateManifests(ctx, manifests, &policy.PolicyContext{Operation: "validate"})
//	if err != nil {
//	    return err
//	}
//	for _, v := range result.Blocking() {
//	    fmt.Printf("%s: %s: %s\n", v.Machine, v.Policy, v.Message)
//	}
//
// # Built-in Policies
//
//   - machine-naming: lowercase machine names, hyphen-free facet names and
//     numeric server names, so that node names split back into their parts
//   - required-fields: an environment and a non-empty run list
//   - cloud-placement: placed machines set a flavor and an image, and their
//     availability zones lie in their region
//   - production-safeguards: production machines are firewalled, monitored
//     and not bootstrapped as root
//   - drift-replacement: drift in placement fields cannot be synced in place
//
// Built-in policies can be disabled individually with DisablePolicy or all
// together with WithBuiltins(false). A loaded policy with the same name
// replaces the built-in one.
//
// # Loading
//
// The Loader reads .rego files (named after the file, enabled, severity
// warning) and .json files holding either one Policy or a PolicyBundle.
// Engine.Watch reloads the whole set whenever a watched file changes; a set
// that fails to compile leaves the previous one in place.
package policy
