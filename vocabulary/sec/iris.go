// Package sec provides IRI constants for the w3id security vocabulary used
// by federation key material.
package sec

// Namespace is the base IRI prefix for security vocabulary terms.
const Namespace = "https://w3id.org/security#"

// ContextURI is the JSON-LD @context document for security/v1.
const ContextURI = "https://w3id.org/security/v1"

// Class IRIs.
const (
	// TypeKey represents a cryptographic public key document.
	TypeKey = Namespace + "Key"
)

// Property IRIs.
const (
	// PropPublicKey links an actor to its public key document.
	PropPublicKey = Namespace + "publicKey"

	// PropOwner links a key document back to its controlling actor.
	PropOwner = Namespace + "owner"

	// PropPublicKeyPem is the PEM-encoded public key literal.
	PropPublicKeyPem = Namespace + "publicKeyPem"
)
