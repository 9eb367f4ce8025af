package proxy

// Package proxy implements the stpro listener side.
//
// It contains the accept loop, protocol sniffing (SOCKS5 vs HTTP CONNECT on
// the same port), per-session orchestration from handshake through relay
// teardown, and shared plumbing such as keepalive listeners and prometheus
// metrics.
