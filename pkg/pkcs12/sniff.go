package pkcs12

import "encoding/hex"

// signature is the hex form of bytes 4..8 of a DER PFX with a long-form
// outer length: the version INTEGER 3 followed by the ContentInfo SEQUENCE tag.
const signature = "02010330"

const (
	signatureOffset = 4
	signatureLength = 4
)

// Sniff is a cheap pre-filter run before Decode. It reports whether the four
// bytes following the first four hex-encode to "02010330". Buffers that are
// too short never match. False positives are left to Decode to reject.
func Sniff(data []byte) bool {
	if len(data) < signatureOffset+signatureLength {
		return false
	}
	return hex.EncodeToString(data[signatureOffset:signatureOffset+signatureLength]) == signature
}
