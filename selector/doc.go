// Package selector shortlists the probes that will ping a target.
//
// Candidates are chosen in three tiers:
//   - Same AS: connected probes hosted in the target's AS
//   - Neighbours: probes in the ASes adjacent to it, when the AS has none
//   - Random: a uniform sample of the whole fleet, when both are empty
//
// Targets that cannot be mapped to an AS go straight to the random tier.
//
// # Caching
//
// The candidate list of an AS is looked up once per run and cached in the
// run context, empty lists included. Every probe's AS is recorded in the
// run's probe cache and journaled as soon as it is seen, so an interrupted
// run can still attribute results to the right AS.
//
// # Usage
//
//	sel := selector.New(platform, graph, fl, j, selector.Options{})
//	selection, err := sel.Select(ctx, run, target)
//	if err != nil {
//	    return err
//	}
package selector
