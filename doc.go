// statlake pulls records out of third-party sports, collectible, and
// pet-adoption APIs and lands them in object storage as partitioned
// Parquet/JSON/CSV blobs, then serves filtered slices of them back over
// HTTP.
//
// Every journey through statlake has the same batch shape:
//
//  1. Source
//
//     A statlake.Source hands back raw upstream records one at a time. The
//     upstream clients (petfinder, scryfall, sportsdb) each know how to
//     walk their API's pagination and produce records behind this one
//     interface. A Source does not reshape data - that is the flattener's
//     job.
//
//  2. Flatten
//
//     Raw records are arbitrarily nested JSON. Flatten collapses each one
//     into a single-level record whose values are all scalars: nested
//     objects get underscore-joined key paths, lists become comma-joined
//     strings, and numeric oddities (NaN, Inf, fixed-width ints) are
//     normalized into JSON-safe values.
//
//  3. Partition and persist
//
//     The pipeline package groups flat records by a derived key (usually a
//     publication month), writes one blob per partition through the
//     storage package, and can later merge partitions, draw filtered
//     random samples, and answer full-scan equality queries over any blob.
//
// The web package exposes each pipeline stage as an HTTP endpoint, and cmd
// wires the whole thing into a CLI.
package statlake
