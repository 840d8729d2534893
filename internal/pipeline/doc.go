// Package pipeline runs one discovery pass: search for deployment pages, fetch
// them, extract repository links, enrich every distinct repository through the
// code host, score it and persist it.
//
// Every network-bound step runs in its own goroutine; CPU-bound steps run
// inline. A run is cancelled cooperatively between phases and a store failure
// aborts it; every other failure is contained to the item that produced it.
package pipeline
