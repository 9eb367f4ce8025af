package socks5

// Package socks5 implements the server side of the SOCKS5 negotiation used by
// stpro.
//
// The negotiation is an explicit state machine over an abstract byte stream
// (AwaitGreeting -> AwaitRequest -> Ready | Failed), so it can be unit tested
// against net.Pipe or in-memory buffers without real sockets. Wire parsing and
// serialization are delegated to the low-level protocol types in
// github.com/txthinking/socks5; this package keeps stpro-specific behavior in
// one place: the no-auth-only policy, the command and address-type subset, the
// all-zero bound address in replies, and the mapping from resolution failures
// to SOCKS5 reply codes.
