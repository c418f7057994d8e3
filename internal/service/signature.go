package service

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"points_service/internal/domain"
)

const signedMessagePrefix = "points:v1:"

// VerifySignature checks an Ed25519 signature over message. Any malformed
// input yields false; it never panics.
func VerifySignature(signature, publicKey, message []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// VerifyEncoded decodes a std-base64 signature and a hex public key, the
// encodings wallets hand us, and verifies them over message.
func VerifyEncoded(signatureB64, publicKeyHex string, message []byte) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return VerifySignature(sig, pub, message)
}

// SignedMessage is the byte string a client signs for one earn event:
// points:v1:<userId>:<type>:<amount>
func SignedMessage(userID string, t domain.EarnType, amount int64) []byte {
	var b strings.Builder
	b.Grow(len(signedMessagePrefix) + len(userID) + len(t) + 22)
	b.WriteString(signedMessagePrefix)
	b.WriteString(userID)
	b.WriteByte(':')
	b.WriteString(string(t))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(amount, 10))
	return []byte(b.String())
}
