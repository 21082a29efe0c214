package chunkcodec

import (
	"testing"
	"time"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

func samplePages() []*wikipage.Page {
	return []*wikipage.Page{
		{
			ID:    12,
			NsID:  0,
			Title: "Science_fiction_film",
			Revision: &wikipage.Revision{
				ID:        99,
				HasParent: true,
				ParentID:  98,
				HasTime:   true,
				Timestamp: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC),
				HasSHA1:   true,
				SHA1:      wikipage.SHA1{Word0: 1, Word1: 2, Word2: 3},
				Text:      "'''Science fiction film''' is a genre. [[Category:Film genres]]",
			},
		},
		{
			ID:       34,
			NsID:     0,
			Title:    "SciFi",
			Redirect: "Science_fiction_film",
		},
		{
			ID:    56,
			NsID:  14,
			Title: "Category:Film_genres",
			Revision: &wikipage.Revision{
				ID:   100,
				Text: "",
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pages := samplePages()
	frame := Encode(pages)

	cv, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cv.Len() != uint32(len(pages)) {
		t.Fatalf("Len() = %d, want %d", cv.Len(), len(pages))
	}

	for i, want := range pages {
		pv, err := cv.Page(uint32(i))
		if err != nil {
			t.Fatalf("Page(%d): %v", i, err)
		}
		if pv.MediaWikiID() != want.ID {
			t.Errorf("slot %d MediaWikiID = %d, want %d", i, pv.MediaWikiID(), want.ID)
		}
		if pv.NsID() != want.NsID {
			t.Errorf("slot %d NsID = %d, want %d", i, pv.NsID(), want.NsID)
		}
		if pv.Title() != want.Title {
			t.Errorf("slot %d Title = %q, want %q", i, pv.Title(), want.Title)
		}
		if want.Redirect != "" {
			if !pv.HasRedirect() {
				t.Errorf("slot %d HasRedirect = false, want true", i)
			} else if pv.Redirect() != want.Redirect {
				t.Errorf("slot %d Redirect = %q, want %q", i, pv.Redirect(), want.Redirect)
			}
		} else if pv.HasRedirect() {
			t.Errorf("slot %d HasRedirect = true, want false", i)
		}

		if want.Revision != nil {
			if !pv.HasRevision() {
				t.Fatalf("slot %d HasRevision = false, want true", i)
			}
			if pv.RevisionID() != want.Revision.ID {
				t.Errorf("slot %d RevisionID = %d, want %d", i, pv.RevisionID(), want.Revision.ID)
			}
			if pv.Text() != want.Revision.Text {
				t.Errorf("slot %d Text = %q, want %q", i, pv.Text(), want.Revision.Text)
			}
			if want.Revision.HasParent != pv.HasParentID() {
				t.Errorf("slot %d HasParentID = %v, want %v", i, pv.HasParentID(), want.Revision.HasParent)
			} else if want.Revision.HasParent && pv.ParentID() != want.Revision.ParentID {
				t.Errorf("slot %d ParentID = %d, want %d", i, pv.ParentID(), want.Revision.ParentID)
			}
			if want.Revision.HasTime != pv.HasTimestamp() {
				t.Errorf("slot %d HasTimestamp = %v, want %v", i, pv.HasTimestamp(), want.Revision.HasTime)
			} else if want.Revision.HasTime && !pv.Timestamp().Equal(want.Revision.Timestamp) {
				t.Errorf("slot %d Timestamp = %v, want %v", i, pv.Timestamp(), want.Revision.Timestamp)
			}
			if want.Revision.HasSHA1 != pv.HasSHA1() {
				t.Errorf("slot %d HasSHA1 = %v, want %v", i, pv.HasSHA1(), want.Revision.HasSHA1)
			} else if want.Revision.HasSHA1 && pv.SHA1() != want.Revision.SHA1 {
				t.Errorf("slot %d SHA1 = %+v, want %+v", i, pv.SHA1(), want.Revision.SHA1)
			}
		} else if pv.HasRevision() {
			t.Errorf("slot %d HasRevision = true, want false", i)
		}
	}
}

func TestVerifyRejectsTruncatedFrame(t *testing.T) {
	frame := Encode(samplePages())
	for _, n := range []int{0, 1, frameHeaderLen - 1, frameHeaderLen, len(frame) - 1} {
		if n > len(frame) {
			continue
		}
		if err := Verify(frame[:n]); err == nil {
			t.Errorf("Verify(frame[:%d]) = nil, want error", n)
		}
	}
}

func TestVerifyRejectsBadMagic(t *testing.T) {
	frame := Encode(samplePages())
	frame[0] ^= 0xFF
	if err := Verify(frame); err == nil {
		t.Error("Verify() with corrupted magic = nil, want error")
	}
}

func TestVerifyRejectsUnsupportedSchema(t *testing.T) {
	frame := Encode(samplePages())
	putU64(frame, magicLen, CurrentSchemaID+1)
	if err := Verify(frame); err == nil {
		t.Error("Verify() with unsupported schema ID = nil, want error")
	}
}

func TestDecodeEmptyChunk(t *testing.T) {
	frame := Encode(nil)
	cv, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode(empty): %v", err)
	}
	if cv.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cv.Len())
	}
}

func TestToPage(t *testing.T) {
	pages := samplePages()
	frame := Encode(pages)
	cv, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	pv, err := cv.Page(0)
	if err != nil {
		t.Fatalf("Page(0): %v", err)
	}
	got := pv.ToPage()
	want := pages[0]
	if got.ID != want.ID || got.Title != want.Title || got.Revision.Text != want.Revision.Text {
		t.Errorf("ToPage() = %+v, want fields matching %+v", got, want)
	}
}
