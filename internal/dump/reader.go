package dump

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

// Reader is a single-pass, lazy iterator over the pages of one dump file.
// It is not restartable; once exhausted, open a new one.
type Reader struct {
	path   string
	file   *os.File
	decomp decompressor
	dec    *xml.Decoder

	limit   int64 // 0 = unlimited
	emitted int64
	done    bool
}

// Open opens path, wraps it in the decompressor hint selects (or implied by
// the extension, if hint is CompressionAuto), and prepares the pull parser.
// limit is the approximate page limit for this reader; 0 means unlimited.
func Open(path string, hint Compression, limit int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}

	dc, err := wrap(f, path, hint)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dump: wrap %s: %w", path, err)
	}

	return &Reader{
		path:   path,
		file:   f,
		decomp: dc,
		dec:    xml.NewDecoder(dc),
		limit:  limit,
	}, nil
}

// Close releases the underlying file and any decompressor resources.
func (r *Reader) Close() error {
	err := r.decomp.Close()
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// BytesRead returns the number of decompressed bytes consumed so far, for
// progress reporting.
func (r *Reader) BytesRead() int64 { return r.dec.InputOffset() }

// Next returns the next page in source order, io.EOF once the dump (or the
// approximate page limit) is exhausted, or a *wikierr.DumpParseError on
// malformed XML.
func (r *Reader) Next() (*wikipage.Page, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.limit > 0 && r.emitted >= r.limit {
		r.done = true
		return nil, io.EOF
	}

	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			r.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "page" {
			continue
		}

		page, err := r.parsePage()
		if err != nil {
			return nil, err
		}
		r.emitted++
		return page, nil
	}
}

// parsePage implements the IN_PAGE state: it consumes tokens until the
// matching </page>, tracking the required fields and keeping only the last
// of one-or-more <revision> blocks.
func (r *Reader) parsePage() (*wikipage.Page, error) {
	var (
		haveID, haveNs, haveTitle bool
		id                        uint64
		nsID                      int32
		title, redirect           string
		rev                       *wikipage.Revision
	)

	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "title":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				title, haveTitle = s, true

			case "ns":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("invalid <ns> %q: %w", s, err)}
				}
				nsID, haveNs = int32(n), true

			case "id":
				if haveID {
					if err := skipElement(r.dec); err != nil {
						return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
					}
					continue
				}
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				v, err := strconv.ParseUint(s, 10, 64)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("invalid page <id> %q: %w", s, err)}
				}
				id, haveID = v, true

			case "redirect":
				for _, a := range t.Attr {
					if a.Name.Local == "title" {
						redirect = a.Value
					}
				}
				if err := skipElement(r.dec); err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}

			case "revision":
				rv, err := r.parseRevision()
				if err != nil {
					return nil, err
				}
				rev = rv // only the last <revision> is retained

			default:
				if err := skipElement(r.dec); err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
			}

		case xml.EndElement:
			if t.Name.Local == "page" {
				if !haveID {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("page missing required <id>")}
				}
				if !haveNs {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("page %d missing required <ns>", id)}
				}
				if !haveTitle {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("page %d missing required <title>", id)}
				}
				return &wikipage.Page{
					ID:       id,
					NsID:     nsID,
					Title:    title,
					Redirect: redirect,
					Revision: rev,
				}, nil
			}
		}
	}
}

// parseRevision implements the IN_REVISION state.
func (r *Reader) parseRevision() (*wikipage.Revision, error) {
	var (
		haveID, haveParent, haveTime, haveSHA1 bool
		id, parentID                           uint64
		ts                                      time.Time
		text                                    string
		sha1                                    wikipage.SHA1
	)

	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "id":
				if haveID {
					// <contributor><id>...</id></contributor> is skipped
					// wholesale by the default case below; this guards the
					// (spec-disallowed but cheap to tolerate) case of a
					// second top-level <id> inside <revision>.
					if err := skipElement(r.dec); err != nil {
						return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
					}
					continue
				}
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				v, err := strconv.ParseUint(s, 10, 64)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("invalid revision <id> %q: %w", s, err)}
				}
				id, haveID = v, true

			case "parentid":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				v, err := strconv.ParseUint(s, 10, 64)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("invalid <parentid> %q: %w", s, err)}
				}
				parentID, haveParent = v, true

			case "timestamp":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				t2, err := parseTimestamp(s)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				ts, haveTime = t2, true

			case "text":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				text = s

			case "sha1":
				s, err := takeElementText(r.dec)
				if err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
				if s != "" {
					h, err := decodeBase36SHA1(s)
					if err != nil {
						return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
					}
					sha1, haveSHA1 = h, true
				}

			default:
				if err := skipElement(r.dec); err != nil {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(), Err: err}
				}
			}

		case xml.EndElement:
			if t.Name.Local == "revision" {
				if !haveID {
					return nil, &wikierr.DumpParseError{Offset: r.dec.InputOffset(),
						Err: fmt.Errorf("revision missing required <id>")}
				}
				rev := &wikipage.Revision{ID: id, Text: text}
				if haveParent {
					rev.HasParent, rev.ParentID = true, parentID
				}
				if haveTime {
					rev.HasTime, rev.Timestamp = true, ts
				}
				if haveSHA1 {
					rev.HasSHA1, rev.SHA1 = true, sha1
				}
				return rev, nil
			}
		}
	}
}

// takeElementText reads the text content of the element whose
// xml.StartElement was just consumed, up to and including its matching end
// tag. Unexpected child elements are skipped without erroring.
func takeElementText(dec *xml.Decoder) (string, error) {
	var text string
	depth := 1
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 1 {
				text += string(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return text, nil
			}
		}
	}
}

// skipElement discards the subtree of the element whose xml.StartElement
// was just consumed. Unknown elements are skipped without warning.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// parseTimestamp parses an RFC 3339 <timestamp>, rejecting any value that
// carries sub-second precision rather than silently truncating it.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid revision timestamp %q: %w", s, err)
	}
	if t.Nanosecond() != 0 {
		return time.Time{}, fmt.Errorf(
			"revision timestamp %q has sub-second precision, which dumps never carry in practice", s)
	}
	return t.UTC(), nil
}
