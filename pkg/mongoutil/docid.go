// Package mongoutil collects small MongoDB helpers shared by the agent
// store, resume-token store, election, watcher, and writeback packages so
// each does not reinvent id coercion and namespace plumbing.
package mongoutil

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseDocumentID converts the wire representation of a document identifier
// (a 24-character hex string or an already-typed ObjectID) into a value
// usable in a Mongo filter. Non-ObjectID string ids (UUIDs, natural keys)
// pass through unchanged, per spec.md §3 "Document identifiers may be
// string or 24-hex object identifiers".
func ParseDocumentID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// FormatDocumentID renders any supported _id representation back to its
// canonical string form, the inverse of ParseDocumentID.
func FormatDocumentID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Namespace joins a database and collection name the way change-stream
// events and watch specs key their targets.
func Namespace(database, collection string) string {
	return database + "." + collection
}
