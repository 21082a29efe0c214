package chunkcodec

import (
	"strings"
	"time"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

// Encode serialises a batch of pages into a newly allocated, self-describing
// chunk frame. Decode borrows from its input instead.
func Encode(pages []*wikipage.Page) []byte {
	var varData []byte
	records := make([]byte, len(pages)*CurrentRecordSize)

	appendVar := func(s string) (off, length uint32) {
		off = uint32(len(varData))
		length = uint32(len(s))
		varData = append(varData, s...)
		return
	}

	for i, p := range pages {
		rec := records[i*CurrentRecordSize : (i+1)*CurrentRecordSize]

		putU64(rec, offMediaWikiID, p.ID)
		putI32(rec, offNsID, p.NsID)

		var flags uint32
		titleOff, titleLen := appendVar(p.Title)
		putU32(rec, offTitleOff, titleOff)
		putU32(rec, offTitleLen, titleLen)

		if p.Redirect != "" {
			flags |= flagHasRedirect
			off, length := appendVar(p.Redirect)
			putU32(rec, offRedirectOff, off)
			putU32(rec, offRedirectLen, length)
		}

		if rev := p.Revision; rev != nil {
			flags |= flagHasRevision
			putU64(rec, offRevisionID, rev.ID)

			if rev.HasParent {
				flags |= flagHasParentID
				putU64(rec, offParentID, rev.ParentID)
			}
			if rev.HasTime {
				flags |= flagHasTime
				putI64(rec, offTimestampUnix, rev.Timestamp.Unix())
			}
			if rev.HasSHA1 {
				flags |= flagHasSHA1
				putU64(rec, offSHA1Word0, rev.SHA1.Word0)
				putU64(rec, offSHA1Word1, rev.SHA1.Word1)
				putU32(rec, offSHA1Word2, rev.SHA1.Word2)
			}

			off, length := appendVar(rev.Text)
			putU32(rec, offTextOff, off)
			putU32(rec, offTextLen, length)
		}

		putU32(rec, offFlags, flags)
	}

	body := make([]byte, bodyHeaderLen+len(records)+len(varData))
	putU32(body, 0, uint32(len(pages)))
	putU32(body, 4, CurrentRecordSize)
	copy(body[bodyHeaderLen:], records)
	copy(body[bodyHeaderLen+len(records):], varData)

	frame := make([]byte, frameHeaderLen+len(body))
	copy(frame[0:magicLen], magic[:])
	putU64(frame, magicLen, CurrentSchemaID)
	putU32(frame, magicLen+8, uint32(len(body)))
	copy(frame[frameHeaderLen:], body)

	return frame
}

// ChunkView is a decoded, borrowed view over a chunk frame. It does not own
// the backing bytes; the caller (normally internal/chunkstore) is
// responsible for keeping them alive (e.g. via a memory mapping) for as
// long as the view is used.
type ChunkView struct {
	body       []byte
	pageCount  uint32
	recordSize uint32
	varData    []byte
}

// Decode verifies and decodes a chunk frame's header, returning a
// ChunkView that borrows from b. It runs the structural checks from
// Verify once; PageView accessors never re-check.
func Decode(b []byte) (*ChunkView, error) {
	if len(b) < frameHeaderLen {
		return nil, &wikierr.ChunkCodecError{Reason: "frame shorter than header"}
	}
	if string(b[0:magicLen]) != string(magic[:]) {
		return nil, &wikierr.ChunkCodecError{Reason: "bad magic"}
	}
	schemaID := getU64(b, magicLen)
	if schemaID != CurrentSchemaID {
		return nil, &wikierr.ChunkCodecError{Reason: "unsupported schema ID"}
	}
	bodyLen := getU32(b, magicLen+8)
	body := b[frameHeaderLen:]
	if uint32(len(body)) != bodyLen {
		return nil, &wikierr.ChunkCodecError{Reason: "body length mismatch"}
	}
	if len(body) < bodyHeaderLen {
		return nil, &wikierr.ChunkCodecError{Reason: "body shorter than its own header"}
	}

	pageCount := getU32(body, 0)
	recordSize := getU32(body, 4)
	if recordSize < CurrentRecordSize {
		return nil, &wikierr.ChunkCodecError{Reason: "record size smaller than the minimum this codec understands"}
	}

	recordsLen := uint64(pageCount) * uint64(recordSize)
	if recordsLen > uint64(len(body)-bodyHeaderLen) {
		return nil, &wikierr.ChunkCodecError{Reason: "truncated frame: records section exceeds body"}
	}

	varData := body[uint64(bodyHeaderLen)+recordsLen:]

	cv := &ChunkView{
		body:       body,
		pageCount:  pageCount,
		recordSize: recordSize,
		varData:    varData,
	}

	if err := cv.verifyRecords(); err != nil {
		return nil, err
	}

	return cv, nil
}

// Verify runs Decode's structural checks without returning the view,
// matching the `verify(bytes) -> Ok|Err` contract for callers
// that only want the check (e.g. a standalone integrity scan).
func Verify(b []byte) error {
	_, err := Decode(b)
	return err
}

func (cv *ChunkView) verifyRecords() error {
	for i := uint32(0); i < cv.pageCount; i++ {
		rec := cv.record(i)
		for _, pair := range [][2]int{
			{offTitleOff, offTitleLen},
			{offRedirectOff, offRedirectLen},
			{offTextOff, offTextLen},
		} {
			off := getU32(rec, pair[0])
			length := getU32(rec, pair[1])
			end := uint64(off) + uint64(length)
			if end > uint64(len(cv.varData)) {
				return &wikierr.ChunkCodecError{Reason: "variable field out of bounds"}
			}
		}
	}
	return nil
}

func (cv *ChunkView) record(idx uint32) []byte {
	start := uint64(bodyHeaderLen) + uint64(idx)*uint64(cv.recordSize)
	return cv.body[start : start+uint64(cv.recordSize)]
}

// Len returns the number of pages in this chunk.
func (cv *ChunkView) Len() uint32 { return cv.pageCount }

// Page returns a zero-copy view of the page at the given slot index.
func (cv *ChunkView) Page(slot uint32) (PageView, error) {
	if slot >= cv.pageCount {
		return PageView{}, &wikierr.ChunkCodecError{Reason: "slot index out of range"}
	}
	return PageView{rec: cv.record(slot), varData: cv.varData}, nil
}

// Pages returns an iterator-like slice of every (slot, PageView) pair in
// the chunk, in stored order.
func (cv *ChunkView) Pages() []PageView {
	out := make([]PageView, cv.pageCount)
	for i := uint32(0); i < cv.pageCount; i++ {
		out[i] = PageView{rec: cv.record(i), varData: cv.varData}
	}
	return out
}

// PageView is a zero-copy, borrowed view of a single page within a
// ChunkView. Every accessor reads directly from the backing bytes; none of
// them allocate.
type PageView struct {
	rec     []byte
	varData []byte
}

func (pv PageView) varString(offField, lenField int) string {
	off := getU32(pv.rec, offField)
	length := getU32(pv.rec, lenField)
	return bytesToString(pv.varData[off : off+length])
}

// MediaWikiID returns the page's numeric MediaWiki ID.
func (pv PageView) MediaWikiID() uint64 { return getU64(pv.rec, offMediaWikiID) }

// NsID returns the page's namespace ID.
func (pv PageView) NsID() int32 { return getI32(pv.rec, offNsID) }

// Title returns the page's title as a zero-copy string borrowed from the
// chunk's backing bytes.
func (pv PageView) Title() string { return pv.varString(offTitleOff, offTitleLen) }

// HasRedirect reports whether this page is a redirect.
func (pv PageView) HasRedirect() bool { return getU32(pv.rec, offFlags)&flagHasRedirect != 0 }

// Redirect returns the redirect target title, or "" if HasRedirect is false.
func (pv PageView) Redirect() string {
	if !pv.HasRedirect() {
		return ""
	}
	return pv.varString(offRedirectOff, offRedirectLen)
}

// HasRevision reports whether this page has a current revision recorded.
func (pv PageView) HasRevision() bool { return getU32(pv.rec, offFlags)&flagHasRevision != 0 }

// RevisionID returns the current revision's ID. Only valid if HasRevision.
func (pv PageView) RevisionID() uint64 { return getU64(pv.rec, offRevisionID) }

// HasParentID reports whether the revision has a recorded parent revision.
func (pv PageView) HasParentID() bool { return getU32(pv.rec, offFlags)&flagHasParentID != 0 }

// ParentID returns the parent revision ID. Only valid if HasParentID.
func (pv PageView) ParentID() uint64 { return getU64(pv.rec, offParentID) }

// HasTimestamp reports whether the revision has a recorded timestamp.
func (pv PageView) HasTimestamp() bool { return getU32(pv.rec, offFlags)&flagHasTime != 0 }

// Timestamp returns the revision timestamp in UTC. Only valid if HasTimestamp.
func (pv PageView) Timestamp() time.Time {
	return time.Unix(getI64(pv.rec, offTimestampUnix), 0).UTC()
}

// HasSHA1 reports whether the revision has a recorded body hash.
func (pv PageView) HasSHA1() bool { return getU32(pv.rec, offFlags)&flagHasSHA1 != 0 }

// SHA1 returns the revision's body hash. Only valid if HasSHA1.
func (pv PageView) SHA1() wikipage.SHA1 {
	return wikipage.SHA1{
		Word0: getU64(pv.rec, offSHA1Word0),
		Word1: getU64(pv.rec, offSHA1Word1),
		Word2: getU32(pv.rec, offSHA1Word2),
	}
}

// Text returns the revision's wikitext body. Only valid if HasRevision.
func (pv PageView) Text() string { return pv.varString(offTextOff, offTextLen) }

// ToPage copies this view into an owned wikipage.Page, for use once the
// backing mapping's lifetime ends (e.g. across an HTTP response boundary,
// following the "Zero-copy vs owned views" design note).
func (pv PageView) ToPage() *wikipage.Page {
	p := &wikipage.Page{
		ID:    pv.MediaWikiID(),
		NsID:  pv.NsID(),
		Title: strings.Clone(pv.Title()),
	}
	if pv.HasRedirect() {
		p.Redirect = strings.Clone(pv.Redirect())
	}
	if pv.HasRevision() {
		rev := &wikipage.Revision{
			ID:   pv.RevisionID(),
			Text: strings.Clone(pv.Text()),
		}
		if pv.HasParentID() {
			rev.HasParent = true
			rev.ParentID = pv.ParentID()
		}
		if pv.HasTimestamp() {
			rev.HasTime = true
			rev.Timestamp = pv.Timestamp()
		}
		if pv.HasSHA1() {
			rev.HasSHA1 = true
			rev.SHA1 = pv.SHA1()
		}
		p.Revision = rev
	}
	return p
}
