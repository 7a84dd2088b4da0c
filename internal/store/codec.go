package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec errors.
var (
	ErrInvalidCBOR = errors.New("invalid CBOR data")
)

// EncodeDocument encodes a document to its CBOR wire form. This is the format
// written to the Redis backend and published on its change channels.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s/%s: %w", doc.Collection, doc.Key, err)
	}
	return data, nil
}

// DecodeDocument decodes a CBOR-encoded document.
func DecodeDocument(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCBOR
	}
	var doc Document
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}
	return &doc, nil
}

// EncodeChange encodes a change event for the pub/sub channel.
func EncodeChange(change Change) ([]byte, error) {
	data, err := cbor.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("encode change for %s/%s: %w", change.Doc.Collection, change.Doc.Key, err)
	}
	return data, nil
}

// DecodeChange decodes a CBOR-encoded change event.
func DecodeChange(data []byte) (*Change, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCBOR
	}
	var change Change
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&change); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}
	return &change, nil
}
