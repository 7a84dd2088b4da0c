package store

// Filter narrows queries and subscriptions. It is a closed set of variants
// matched exhaustively; there is no "whichever field is present" construction.
type Filter interface {
	// Matches reports whether a document satisfies the filter.
	Matches(doc Document) bool
}

// None matches every document in the collection.
type None struct{}

// Matches always returns true.
func (None) Matches(Document) bool { return true }

// ByAttr matches documents whose indexed attribute equals Value.
type ByAttr struct {
	Name  string
	Value string
}

// Matches returns true when the named attribute equals the filter value.
func (f ByAttr) Matches(doc Document) bool {
	return doc.Attrs[f.Name] == f.Value
}

// ByKey matches a single document key.
type ByKey struct {
	Key string
}

// Matches returns true when the document key equals the filter key.
func (f ByKey) Matches(doc Document) bool {
	return doc.Key == f.Key
}
