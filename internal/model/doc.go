// Package model defines the typed hub events and lifecycle records shared
// across the realtime service.
//
// Conventions:
//   - Prices and money: decimal.Decimal, never float64
//   - Timestamps: Timestamp, accepting RFC 3339 with or without a zone
//   - Contract ids: broker strings (e.g. "CON.F.US.EP.M25"); account ids: int64
package model
