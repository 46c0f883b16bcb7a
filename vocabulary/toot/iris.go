// Package toot provides IRI constants for the Mastodon extension vocabulary.
package toot

// Namespace is the base IRI prefix for Mastodon extension terms.
const Namespace = "http://joinmastodon.org/ns#"

// Property IRIs.
const (
	// PropFeatured links an actor to its pinned-posts collection.
	PropFeatured = Namespace + "featured"

	// PropFeaturedTags links an actor to its featured hashtag collection.
	PropFeaturedTags = Namespace + "featuredTags"

	// PropDiscoverable marks an actor as listable in directories.
	PropDiscoverable = Namespace + "discoverable"

	// PropIndexable marks an actor's posts as searchable.
	PropIndexable = Namespace + "indexable"

	// PropSuspended marks an actor as suspended by its origin server.
	PropSuspended = Namespace + "suspended"
)
