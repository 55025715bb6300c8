package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
)

// NewClaimKey generates fresh key material for an escrowed claim. The public
// half rides on the CreateClaim request; the matching private key is handed
// to the beneficiary out of band.
func NewClaimKey() string {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic("FATAL: claim key generation failed: " + err.Error())
	}
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub)
}
