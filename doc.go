// Package ewf reads and writes Expert Witness Compression Format (EWF)
// forensic disk images: EnCase 1-6, FTK SMART, linen5-7 and EWF-X
// variants, over a chain of segment files plus an optional delta
// overlay chain.
//
// A Handle is the single entry point. Open it for reading with
// OpenRead, or start a fresh acquisition with Create. Reads and writes
// operate on the logical (uncompressed) byte stream; chunking,
// compression and segment rollover are handled internally.
package ewf
