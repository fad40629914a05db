// Package searchd implements the wire format of the searchd binary protocol
// (Sphinx search daemon), for search command versions 0x101 to 0x116.
//
// The package is a pure codec: it builds request bodies into wire.Buffer
// values and parses response bodies out of them. It does no I/O.
//
// # Versions
//
// Every search request is bound to a command version through
// SearchConfig.Version. Versions differ in field presence, width and order:
//
//   - 0x101: legacy layout with groups and timestamp ranges
//   - 0x104: sort-by, attribute filters, group-by
//   - 0x107: exclude flag on filters, group sort
//   - 0x113: typed filters, 64-bit ids, ranking, anchors, status per query
//   - 0x116: 64-bit filter values, overrides, select clause, string and
//     64-bit attributes
//
// Lookup returns the SearchCodec of a version. EncodeSearch and
// DecodeResponse dispatch on it:
//
//	cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
//	cfg.Indexes = "products"
//	cfg.AddRangeFilter("price", 10, 100, false)
//
//	req, err := searchd.NewSearchRequest("red shoes", cfg)
//	...
//	resp, err := searchd.DecodeResponse(body, cfg.Version)
//	if resp.Warning != "" {
//	    log.Printf("searchd warning: %s", resp.Warning)
//	}
//
// # Multiqueries
//
// From 0x113 on, a search request carries a query count in its header and
// several bodies may be concatenated. The reply then holds one result per
// body, in order.
//
// # Errors
//
// All errors are typed: ConnectionError, ServerError, MessageError,
// ClientUsageError and ValueTypeError are fatal to a call. Warning is not:
// it is raised after every result of a call has been decoded.
package searchd
