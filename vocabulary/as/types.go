package as

// ActorClasses enumerates the class IRIs that mark a subject as an actor.
var ActorClasses = map[string]bool{
	TypePerson:       true,
	TypeService:      true,
	TypeApplication:  true,
	TypeGroup:        true,
	TypeOrganization: true,
}

// ObjectClasses enumerates content object class IRIs.
var ObjectClasses = map[string]bool{
	TypeObject:    true,
	TypeNote:      true,
	TypeArticle:   true,
	TypeDocument:  true,
	TypePage:      true,
	TypeImage:     true,
	TypeVideo:     true,
	TypeAudio:     true,
	TypeEvent:     true,
	TypeTombstone: true,
}

// ActivityClasses enumerates activity class IRIs, including types this
// node persists without side effects.
var ActivityClasses = map[string]bool{
	TypeActivity: true,
	TypeCreate:   true,
	TypeUpdate:   true,
	TypeDelete:   true,
	TypeFollow:   true,
	TypeAccept:   true,
	TypeReject:   true,
	TypeLike:     true,
	TypeAnnounce: true,
	TypeAdd:      true,
	TypeRemove:   true,
	TypeUndo:     true,
	TypeBlock:    true,
	TypeFlag:     true,
	TypeMove:     true,
}

// IsActor reports whether the class IRI names an actor type.
func IsActor(classIRI string) bool { return ActorClasses[classIRI] }

// IsObject reports whether the class IRI names a content object type.
func IsObject(classIRI string) bool { return ObjectClasses[classIRI] }

// IsActivity reports whether the class IRI names an activity type.
func IsActivity(classIRI string) bool { return ActivityClasses[classIRI] }

// TypeName strips the namespace from an AS class IRI, returning the bare
// type name ("Follow"). IRIs outside the namespace are returned unchanged.
func TypeName(classIRI string) string {
	if len(classIRI) > len(Namespace) && classIRI[:len(Namespace)] == Namespace {
		return classIRI[len(Namespace):]
	}
	return classIRI
}
