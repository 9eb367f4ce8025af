package resolver

// Package resolver turns SOCKS5 destination requests into connected TCP
// sockets.
//
// Literal IPv4 and IPv6 destinations are dialed directly and never touch
// DNS. Domain destinations are resolved through the system resolver or, when
// configured, by querying a specific DNS server; candidates are tried in
// order and the first successful connection wins. Destination sockets are
// opened with Nagle's algorithm disabled so later writes hit the wire as
// issued.
