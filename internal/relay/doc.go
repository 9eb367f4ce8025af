package relay

// Package relay moves bytes between a client and its destination until
// either side finishes, shaping only the client-to-destination direction.
//
// The default shaper slices the outbound stream into randomly sized
// fragments of at most MaxFragment bytes and forces each one onto the wire
// individually, so multi-byte protocol markers rarely share a network
// segment. Operators can instead configure explicit desync strategies
// (split, disorder, fake) with offsets anchored to the TLS SNI or HTTP Host
// header. The destination-to-client direction is always a plain byte-faithful
// copy.
