// Package wire implements the reversible encoding used to move run events
// across text-only transports and out to streaming clients.
//
// Three layers live here:
//   - a payload codec that tags arbitrary JSON-safe values with a closed set
//     of shape discriminants (tuple, list, map, scalar, opaque) so that
//     heterogeneous payloads survive a JSON round trip with their shape
//     intact; unmappable values fall back to an opaque base64 form instead
//     of failing
//   - an event codec that maps the events.Event union onto a discriminated
//     JSON object and back, plus the pub/sub envelope {event_id, payload}
//     published by the distributed channel backends
//   - outward text frames: an event id, an event name optionally suffixed
//     with a "|"-joined namespace path, and a JSON data document
//
// The codec is deliberately a small closed format. Anything it cannot map is
// an explicit, testable opaque fallback, never a silent coercion.
package wire
