// ABOUTME: JSON document format for exporting a namespace's vouches and importing them elsewhere
// ABOUTME: Carries content and timestamps but no row IDs, since IDs are reassigned on import

// Package transfer encodes and decodes vouch export documents.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/2389/vouch-ledger/internal/contenthash"
	"github.com/2389/vouch-ledger/internal/store"
)

// FormatVersion is the document version this package writes.
const FormatVersion = 1

// ErrUnsupportedVersion is returned when decoding a document from a newer format.
var ErrUnsupportedVersion = errors.New("unsupported export format version")

// Document is one exported namespace.
type Document struct {
	Version    int       `json:"version"`
	Namespace  string    `json:"namespace"`
	ExportedAt time.Time `json:"exported_at"`
	Vouches    []Record  `json:"vouches"`
}

// Record is one exported vouch.
type Record struct {
	Seller          string    `json:"seller"`
	Buyer           string    `json:"buyer"`
	Rating          int       `json:"rating"`
	Text            string    `json:"text"`
	ImageHash       string    `json:"image_hash"`
	DescriptionHash string    `json:"description_hash"`
	ImagePath       *string   `json:"image_path,omitempty"`
	ImageURL        *string   `json:"image_url,omitempty"`
	NotifySeller    bool      `json:"notify_seller"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewDocument builds a document from vouches read out of namespace.
func NewDocument(namespace string, exportedAt time.Time, vouches []*store.Vouch) *Document {
	doc := &Document{
		Version:    FormatVersion,
		Namespace:  namespace,
		ExportedAt: exportedAt.UTC(),
		Vouches:    make([]Record, 0, len(vouches)),
	}
	for _, v := range vouches {
		doc.Vouches = append(doc.Vouches, Record{
			Seller:          v.Seller,
			Buyer:           v.Buyer,
			Rating:          v.Rating,
			Text:            v.Text,
			ImageHash:       v.ImageHash,
			DescriptionHash: v.DescriptionHash,
			ImagePath:       v.ImagePath,
			ImageURL:        v.ImageURL,
			NotifySeller:    v.NotifySeller,
			CreatedAt:       v.CreatedAt.UTC(),
		})
	}
	return doc
}

// StoreVouches converts the document's records for store.ImportVouches.
// Records written by hand may omit their hashes; those are computed from the
// text, and an absent image hashes as empty.
func (d *Document) StoreVouches() []*store.Vouch {
	out := make([]*store.Vouch, 0, len(d.Vouches))
	for _, r := range d.Vouches {
		if r.DescriptionHash == "" {
			r.DescriptionHash = contenthash.DescriptionHash(r.Text)
		}
		if r.ImageHash == "" {
			r.ImageHash = contenthash.ImageHash(nil)
		}
		out = append(out, &store.Vouch{
			Seller:          r.Seller,
			Buyer:           r.Buyer,
			Namespace:       d.Namespace,
			Rating:          r.Rating,
			Text:            r.Text,
			ImageHash:       r.ImageHash,
			DescriptionHash: r.DescriptionHash,
			ImagePath:       r.ImagePath,
			ImageURL:        r.ImageURL,
			NotifySeller:    r.NotifySeller,
			CreatedAt:       r.CreatedAt,
		})
	}
	return out
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export document: %w", err)
	}
	return nil
}

// Decode reads a document and checks that it is one this package understands.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding export document: %w", err)
	}
	if doc.Version < 1 || doc.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	for i, rec := range doc.Vouches {
		if rec.Seller == "" || rec.Buyer == "" {
			return nil, fmt.Errorf("record %d: seller and buyer are required", i)
		}
		if rec.Rating < 0 || rec.Rating > 5 {
			return nil, fmt.Errorf("record %d: %w", i, store.ErrInvalidRating)
		}
	}
	return &doc, nil
}
