// Package adapter translates inbound requests for one upstream API family
// into upstream requests.
//
// Each Adapter recognizes its family's request shape, extracts the model the
// request targets and the credential the caller presented, and builds the
// outbound request, injecting a pool key when one is supplied. Adapters are
// stateless; the Registry picks one per request.
//
//	registry := adapter.DefaultRegistry(cfg.Upstreams, logger)
//	a := registry.Resolve(r)
//	if a == nil {
//	    // 400 unknown api type
//	}
package adapter
