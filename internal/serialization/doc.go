// Package serialization reads and writes .born checkpoint files.
//
// File layout:
//
//	0x00  "BORN"                 magic
//	0x04  uint32                 format version (2)
//	0x08  uint32                 flags
//	0x0C  uint32                 reserved
//	0x10  uint64                 JSON header size
//	0x18  uint64                 tensor data size
//	0x20  [32]byte               SHA-256 of the tensor data
//	0x40  JSON header            Header, padded to 64 bytes
//	      tensor data            little-endian, in header order
//
// Writes go to a temporary file in the destination directory and are
// renamed into place, so a reader never sees a partially written checkpoint.
package serialization
