// Package docstore adapts document databases to a small gateway: point reads
// and writes, one-shot collection scans, compare-and-swap updates, and live
// subscriptions that push full snapshots.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("docstore: document not found")
	ErrConflict     = errors.New("docstore: write conflict")
	ErrClosed       = errors.New("docstore: store closed")
	ErrInvalidQuery = errors.New("docstore: invalid query")
	// ErrSkipUpdate is returned by an UpdateFunc to commit nothing.
	ErrSkipUpdate = errors.New("docstore: skip update")
)

// Fields is the decoded body of a document.
type Fields map[string]interface{}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Document is an immutable point-in-time copy of a stored document.
type Document struct {
	Collection string
	ID         string
	Version    int64
	Fields     Fields
	UpdatedAt  time.Time
}

// UpdateFunc computes the replacement body of a document from its current
// state. exists is false when the document is missing.
type UpdateFunc func(current Document, exists bool) (Fields, error)

// Store is the gateway to a remote document database.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// WriteMerge sets the given top-level fields, creating the document if needed.
	WriteMerge(ctx context.Context, collection, id string, fields Fields) error
	WriteReplace(ctx context.Context, collection, id string, fields Fields) error
	// Delete is idempotent.
	Delete(ctx context.Context, collection, id string) error
	ScanAll(ctx context.Context, collection string) ([]Document, error)
	Run(ctx context.Context, q Query) ([]Document, error)
	// Update reads the document, applies fn and commits only if the document
	// did not change in between, retrying fn on conflict.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) error
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value interface{}
}

// Query targets a single document when DocID is set, otherwise the documents
// of Collection matching every filter.
type Query struct {
	Collection string
	DocID      string
	Where      []Filter
	OrderBy    string
	Descending bool
}

func DocQuery(collection, id string) Query {
	return Query{Collection: collection, DocID: id}
}

func (q Query) IsDocument() bool {
	return q.DocID != ""
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if q.IsDocument() && (len(q.Where) > 0 || q.OrderBy != "") {
		return fmt.Errorf("%w: document query cannot filter or order", ErrInvalidQuery)
	}
	for _, f := range q.Where {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field is required", ErrInvalidQuery)
		}
	}
	return nil
}

func (q Query) String() string {
	if q.IsDocument() {
		return q.Collection + "/" + q.DocID
	}
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Where {
		fmt.Fprintf(&b, " %s==%v", f.Field, f.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy, dir)
	}
	return b.String()
}

// Matches reports whether doc belongs to the query result.
func (q Query) Matches(doc Document) bool {
	if doc.Collection != q.Collection {
		return false
	}
	if q.IsDocument() {
		return doc.ID == q.DocID
	}
	for _, f := range q.Where {
		if !valuesEqual(doc.Fields[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// Affects reports whether a change event may alter the query result.
func (q Query) Affects(evt ChangeEvent) bool {
	if evt.Collection != q.Collection {
		return false
	}
	return !q.IsDocument() || evt.DocID == q.DocID
}

// Apply filters and orders docs, ties broken by document id.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot is the complete result of a query at one point in time.
type Snapshot struct {
	Query Query
	Docs  []Document
	// Version orders document snapshots; zero when unknown.
	Version  int64
	ReadTime time.Time
}

// Doc returns the single document of a document snapshot.
func (s Snapshot) Doc() (Document, bool) {
	if len(s.Docs) == 0 {
		return Document{}, false
	}
	return s.Docs[0], true
}

func (s Snapshot) fingerprint() string {
	var b strings.Builder
	for _, d := range s.Docs {
		b.WriteString(d.ID)
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(d.Version, 10))
		b.WriteByte(';')
	}
	if len(s.Docs) == 0 {
		b.WriteString("-@")
		b.WriteString(strconv.FormatInt(s.Version, 10))
	}
	return b.String()
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

// compareValues orders numbers, timestamps (native or RFC 3339 strings) and
// strings. Missing values sort first.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
