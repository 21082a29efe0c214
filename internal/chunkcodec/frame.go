package chunkcodec

import "encoding/binary"

// Frame layout (little-endian throughout):
//
//	magic (8B) | schemaID (8B) | bodyLen (4B) | body (bodyLen bytes)
//
// Body layout:
//
//	pageCount (4B) | recordSize (4B) | pageCount * fixed PageRecord | variable data
//
// recordSize is the width, in bytes, of each PageRecord in *this* frame. A
// future writer may grow PageRecord to add new optional fields; this
// reader only ever touches the byte offsets it knows about and skips the
// rest, so old readers keep working against new frames without a version
// bump to the frame format itself: unknown fields are ignored on read.

const (
	magicLen      = 8
	frameHeaderLen = magicLen + 8 + 4 // magic + schemaID + bodyLen
	bodyHeaderLen  = 4 + 4            // pageCount + recordSize

	// CurrentSchemaID identifies the page-record layout this package
	// writes. Bump it (and extend PageRecord) when adding a field that
	// changes the meaning of existing bytes; purely-additive fields can
	// be appended to the record without a schema bump, since recordSize
	// already makes per-record growth forward-compatible.
	CurrentSchemaID uint64 = 1

	// CurrentRecordSize is the width of a PageRecord written by this
	// version of the codec.
	CurrentRecordSize = 84
)

var magic = [magicLen]byte{'W', 'M', 'C', 'H', 'N', 'K', '1', '\n'}

// field offsets within one fixed-width PageRecord.
const (
	offMediaWikiID   = 0
	offRevisionID    = 8
	offParentID      = 16
	offNsID          = 24
	offFlags         = 28
	offTimestampUnix = 32
	offSHA1Word0     = 40
	offSHA1Word1     = 48
	offSHA1Word2     = 56
	offTitleOff      = 60
	offTitleLen      = 64
	offRedirectOff   = 68
	offRedirectLen   = 72
	offTextOff       = 76
	offTextLen       = 80
)

const (
	flagHasRedirect = 1 << 0
	flagHasRevision = 1 << 1
	flagHasParentID = 1 << 2
	flagHasTime     = 1 << 3
	flagHasSHA1     = 1 << 4
)

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:off+8], v) }
func putI32(b []byte, off int, v int32)  { putU32(b, off, uint32(v)) }
func putI64(b []byte, off int, v int64)  { putU64(b, off, uint64(v)) }

func getU32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }
func getU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off : off+8]) }
func getI32(b []byte, off int) int32  { return int32(getU32(b, off)) }
func getI64(b []byte, off int) int64  { return int64(getU64(b, off)) }
