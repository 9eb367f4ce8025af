package proxy

var (
	// Give the GC a floor so a proxy idling between bursts does not shrink
	// the heap below what full-load relaying needs; GOGC+GOMEMLIMIT can't
	// express this. This only allocates virtual memory, not RSS.
	ballast = make([]byte, 0, 25_000_000)
	_       = ballast
)
