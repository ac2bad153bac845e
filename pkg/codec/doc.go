// Package codec holds the message codecs shipped with durq.
//
// JSON is human readable and used by the HTTP API. Binary uses protobuf wire
// encoding. Framed adds a length-prefixed header and a CRC32C trailer around
// another codec so that torn or corrupted values are detected on read;
// Default, Framed(Binary), is what the embedded stores write to disk.
package codec
