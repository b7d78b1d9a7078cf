// Package pump reads newline-delimited log records and hands them to the
// transport one at a time. Records come either from standard input or from
// the merged output of a child process started by the shipper.
package pump
