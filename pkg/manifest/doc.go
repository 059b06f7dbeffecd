// Package manifest builds, canonicalizes and compares machine manifests.
//
// A desired manifest comes from a resolved model.Server (FromServer). An
// observed manifest is rebuilt from the remote directory and the live cloud
// description (Builder.FromObservation). Both are reduced to a Canonical
// form, and Compare reports the field-level differences as engine.Change
// values:
//
//	desired, _ := manifest.FromServer(server).Canonical()
//	observed, _ := builder.FromObservation(ctx, obs)
//	oc, _ := observed.Canonical()
//	changes := manifest.Compare(desired, oc)
package manifest
