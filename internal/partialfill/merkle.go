// Package partialfill authenticates quartile fills of Merkle-committed orders.
//
// An order commits to four secrets at creation. Each fill level releases one
// quarter of the order and must present the secret committed at that level;
// the root H(H(s0‖s1) ‖ H(s2‖s3)) binds all four without revealing them.
package partialfill

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// FillLevels is the number of quartile fills an order is divided into.
const FillLevels = 4

// SecretSize is the byte length of each leaf secret.
const SecretSize = 32

// GenerateSecrets draws the four leaf secrets from crypto/rand.
func GenerateSecrets() ([][]byte, error) {
	secrets := make([][]byte, FillLevels)
	for i := range secrets {
		secrets[i] = make([]byte, SecretSize)
		if _, err := rand.Read(secrets[i]); err != nil {
			return nil, fmt.Errorf("failed to generate fill secret: %w", err)
		}
	}
	return secrets, nil
}

// Root computes the two-level Merkle root over four secrets:
// H(H(s0‖s1) ‖ H(s2‖s3)).
func Root(secrets [][]byte) ([]byte, error) {
	if len(secrets) != FillLevels {
		return nil, fmt.Errorf("need %d secrets, got %d", FillLevels, len(secrets))
	}

	left := sha256.Sum256(append(append([]byte{}, secrets[0]...), secrets[1]...))
	right := sha256.Sum256(append(append([]byte{}, secrets[2]...), secrets[3]...))
	root := sha256.Sum256(append(left[:], right[:]...))
	return root[:], nil
}

// VerifyLeaf checks that the secret at the given index belongs to the
// committed set: the root recomputed from the full set must match.
func VerifyLeaf(secrets [][]byte, index int, root []byte) bool {
	if index < 0 || index >= FillLevels {
		return false
	}
	computed, err := Root(secrets)
	if err != nil {
		return false
	}
	return bytes.Equal(computed, root)
}
