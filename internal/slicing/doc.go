// Package slicing moves payloads that are too large for one message.
//
// A Slicer splits a payload into numbered slices tagged with a random
// identifier and sends them one at a time, waiting for each acknowledgement.
// Every slice carries the CRC-32 of the slice before it so the receiving
// Assembler can detect gaps and reordering. A transfer that makes no
// progress within the expiry period is dropped and its failure callback runs.
package slicing
