package bundle

// Signer signs a bundle's manifest hash. Exports work without one; a nil
// signer leaves the manifest's signature fields empty.
type Signer interface {
	// KeyID identifies the signing key for later verification.
	KeyID() string
	// Sign returns a detached signature over data.
	Sign(data []byte) (string, error)
}
