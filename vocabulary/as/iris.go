// Package as provides IRI constants and type sets for the ActivityStreams
// 2.0 vocabulary.
package as

// Namespace is the base IRI prefix for ActivityStreams 2.0 vocabulary terms.
const Namespace = "https://www.w3.org/ns/activitystreams#"

// ContextURI is the JSON-LD @context document for ActivityStreams 2.0.
const ContextURI = "https://www.w3.org/ns/activitystreams"

// PublicCollection is the well-known collection IRI addressing everyone.
const PublicCollection = Namespace + "Public"

// Media types used in federation content negotiation.
const (
	// ContentType is the dedicated ActivityStreams media type.
	ContentType = "application/activity+json"

	// ContentTypeLD is the JSON-LD media type with the AS2 profile.
	ContentTypeLD = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// Standard RDF IRI constants used when walking parsed graphs.
const (
	// RDFType is the rdf:type predicate.
	RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

	// XSDDateTime is the xsd:dateTime literal datatype.
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
)

// Actor class IRIs.
const (
	// TypePerson represents an individual account.
	TypePerson = Namespace + "Person"

	// TypeService represents an automated account.
	TypeService = Namespace + "Service"

	// TypeApplication represents a software application account.
	TypeApplication = Namespace + "Application"

	// TypeGroup represents a group account.
	TypeGroup = Namespace + "Group"

	// TypeOrganization represents an organization account.
	TypeOrganization = Namespace + "Organization"
)

// Object class IRIs.
const (
	// TypeObject is the generic object class.
	TypeObject = Namespace + "Object"

	// TypeNote represents a short written work.
	TypeNote = Namespace + "Note"

	// TypeArticle represents a multi-paragraph written work.
	TypeArticle = Namespace + "Article"

	// TypeDocument represents a generic document.
	TypeDocument = Namespace + "Document"

	// TypePage represents a web page.
	TypePage = Namespace + "Page"

	// TypeImage represents an image document.
	TypeImage = Namespace + "Image"

	// TypeVideo represents a video document.
	TypeVideo = Namespace + "Video"

	// TypeAudio represents an audio document.
	TypeAudio = Namespace + "Audio"

	// TypeEvent represents a scheduled happening.
	TypeEvent = Namespace + "Event"

	// TypeTombstone marks a deleted object.
	TypeTombstone = Namespace + "Tombstone"

	// TypeCollection is an unordered collection.
	TypeCollection = Namespace + "Collection"

	// TypeOrderedCollection is an ordered collection.
	TypeOrderedCollection = Namespace + "OrderedCollection"
)

// Activity class IRIs.
const (
	// TypeActivity is the generic activity class.
	TypeActivity = Namespace + "Activity"

	// TypeCreate publishes a new object.
	TypeCreate = Namespace + "Create"

	// TypeUpdate modifies an existing object.
	TypeUpdate = Namespace + "Update"

	// TypeDelete removes an object.
	TypeDelete = Namespace + "Delete"

	// TypeFollow requests a subscription to an actor.
	TypeFollow = Namespace + "Follow"

	// TypeAccept accepts a prior activity, typically a Follow.
	TypeAccept = Namespace + "Accept"

	// TypeReject rejects a prior activity, typically a Follow.
	TypeReject = Namespace + "Reject"

	// TypeLike registers approval of an object.
	TypeLike = Namespace + "Like"

	// TypeAnnounce shares an object with the actor's audience.
	TypeAnnounce = Namespace + "Announce"

	// TypeAdd inserts an object into a collection.
	TypeAdd = Namespace + "Add"

	// TypeRemove removes an object from a collection.
	TypeRemove = Namespace + "Remove"

	// TypeUndo reverses a prior activity by the same actor.
	TypeUndo = Namespace + "Undo"

	// TypeBlock severs interaction with an actor.
	TypeBlock = Namespace + "Block"

	// TypeFlag reports an object to moderators.
	TypeFlag = Namespace + "Flag"

	// TypeMove signals an actor migration.
	TypeMove = Namespace + "Move"
)

// Property IRIs shared by objects and activities.
const (
	// PropActor links an activity to the actor performing it.
	PropActor = Namespace + "actor"

	// PropObject links an activity to the object acted upon.
	PropObject = Namespace + "object"

	// PropTarget links an activity to the collection it addresses.
	PropTarget = Namespace + "target"

	// PropAttributedTo links an object to its author.
	PropAttributedTo = Namespace + "attributedTo"

	// PropInReplyTo links an object to the object it replies to.
	PropInReplyTo = Namespace + "inReplyTo"

	// PropContent is the object's body, possibly HTML.
	PropContent = Namespace + "content"

	// PropName is the object's display name or title.
	PropName = Namespace + "name"

	// PropSummary is a short natural-language summary.
	PropSummary = Namespace + "summary"

	// PropPublished is the RFC3339 publication instant.
	PropPublished = Namespace + "published"

	// PropUpdated is the RFC3339 last-edit instant.
	PropUpdated = Namespace + "updated"

	// PropURL links to an HTML representation.
	PropURL = Namespace + "url"

	// PropTo lists primary delivery targets.
	PropTo = Namespace + "to"

	// PropCc lists secondary delivery targets.
	PropCc = Namespace + "cc"

	// PropMediaType declares the content media type.
	PropMediaType = Namespace + "mediaType"

	// PropSensitive marks content behind a viewer warning.
	PropSensitive = Namespace + "sensitive"
)

// Actor property IRIs.
const (
	// PropInbox is the actor's delivery endpoint.
	PropInbox = "http://www.w3.org/ns/ldp#inbox"

	// PropOutbox is the actor's publication collection.
	PropOutbox = Namespace + "outbox"

	// PropFollowers is the actor's followers collection.
	PropFollowers = Namespace + "followers"

	// PropFollowing is the actor's following collection.
	PropFollowing = Namespace + "following"

	// PropLiked is the actor's liked-objects collection.
	PropLiked = Namespace + "liked"

	// PropSharedInbox is the optional domain-wide inbox endpoint.
	PropSharedInbox = Namespace + "sharedInbox"

	// PropPreferredUsername is the actor's login-style short name.
	PropPreferredUsername = Namespace + "preferredUsername"

	// PropManuallyApprovesFollowers gates automatic Follow acceptance.
	PropManuallyApprovesFollowers = Namespace + "manuallyApprovesFollowers"
)
