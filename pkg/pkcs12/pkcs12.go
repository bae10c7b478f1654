// Package pkcs12 validates PKCS#12 (RFC 7292) containers and recovers the
// parameters of their integrity MAC without decrypting anything. Only the
// PFX, ContentInfo and MacData layers are decoded; the SafeContents inside
// the authenticated safe are kept as raw bytes.
package pkcs12

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// PKCS#7 content types (RFC 2315)
var (
	OIDData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}
	OIDEncryptedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 6}
)

var (
	ErrSignatureMismatch      = errors.New("pkcs12: signature mismatch")
	ErrDecode                 = errors.New("pkcs12: decode error")
	ErrUnsupportedContentType = errors.New("pkcs12: unsupported authSafe content type")
	ErrMissingMacData         = errors.New("pkcs12: missing MAC data")
	ErrUnknownAlgorithm       = errors.New("pkcs12: unknown MAC algorithm")
	ErrUnsupportedAlgorithm   = errors.New("pkcs12: unsupported MAC algorithm")
)

// PFX represents the PKCS#12 PFX structure (RFC 7292 Section 4)
type PFX struct {
	Version  int
	AuthSafe ContentInfo
	MacData  *MacData
	// RawAuthSafe holds the value of the OCTET STRING carried by a Data
	// authSafe, i.e. the encoded AuthenticatedSafe.
	RawAuthSafe []byte
}

// ContentInfo represents PKCS#7 ContentInfo (RFC 2315)
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     []byte // contents of [0] EXPLICIT, nil when absent
}

// MacData represents MAC data for integrity verification (RFC 7292 Section 4)
type MacData struct {
	Mac     DigestInfo
	MacSalt []byte
	// Iterations is zero when the optional field is absent from the encoding.
	Iterations int
}

// DigestInfo represents algorithm and digest
type DigestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

// Decoder turns DER bytes into a PFX. DERDecoder is the implementation used
// by default; the interface exists so callers can substitute their own.
type Decoder interface {
	Decode(data []byte) (*PFX, error)
}

// DERDecoder decodes the PFX schema subtree with cryptobyte.
type DERDecoder struct{}

// Decode parses a DER encoded PFX. Malformed input wraps ErrDecode. A
// well-formed PFX whose authSafe is not plain Data is returned together with
// an error wrapping ErrUnsupportedContentType.
func (DERDecoder) Decode(data []byte) (*PFX, error) {
	return Decode(data)
}

// Decode parses a DER encoded PFX, see DERDecoder.
func Decode(data []byte) (*PFX, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: input too small (%d bytes)", ErrDecode, len(data))
	}

	if data[0] == 0x30 && data[1] == 0x80 {
		return nil, fmt.Errorf("%w: BER indefinite-length encoding", ErrDecode)
	}

	input := cryptobyte.String(data)

	// PFX ::= SEQUENCE {
	//   version    INTEGER {v3(3)}(v3,...),
	//   authSafe   ContentInfo,
	//   macData    MacData OPTIONAL
	// }
	var pfx PFX
	var seq cryptobyte.String

	// bytes following the PFX SEQUENCE are ignored
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: failed to read PFX SEQUENCE", ErrDecode)
	}

	if !seq.ReadASN1Integer(&pfx.Version) {
		return nil, fmt.Errorf("%w: failed to read version", ErrDecode)
	}

	var err error
	pfx.AuthSafe, err = parseContentInfo(&seq)
	if err != nil {
		return nil, fmt.Errorf("authSafe: %w", err)
	}

	if !seq.Empty() {
		pfx.MacData, err = parseMacData(&seq)
		if err != nil {
			return nil, fmt.Errorf("macData: %w", err)
		}
	}

	if !seq.Empty() {
		return nil, fmt.Errorf("%w: unexpected data after macData", ErrDecode)
	}

	if !pfx.AuthSafe.ContentType.Equal(OIDData) {
		return &pfx, fmt.Errorf("%w: %s", ErrUnsupportedContentType, ContentTypeName(pfx.AuthSafe.ContentType))
	}

	pfx.RawAuthSafe, err = extractOctetString(pfx.AuthSafe.Content)
	if err != nil {
		return nil, fmt.Errorf("authSafe content: %w", err)
	}

	return &pfx, nil
}

// parseContentInfo parses a PKCS#7 ContentInfo structure
func parseContentInfo(s *cryptobyte.String) (ContentInfo, error) {
	var ci ContentInfo
	var seq cryptobyte.String

	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return ci, fmt.Errorf("%w: failed to read ContentInfo SEQUENCE", ErrDecode)
	}

	if !seq.ReadASN1ObjectIdentifier(&ci.ContentType) {
		return ci, fmt.Errorf("%w: failed to read contentType", ErrDecode)
	}

	// content [0] EXPLICIT ANY DEFINED BY contentType OPTIONAL
	var content cryptobyte.String
	var present bool
	if !seq.ReadOptionalASN1(&content, &present, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
		return ci, fmt.Errorf("%w: failed to read content", ErrDecode)
	}
	if present {
		ci.Content = []byte(content)
	}

	if !seq.Empty() {
		return ci, fmt.Errorf("%w: unexpected data after content", ErrDecode)
	}

	return ci, nil
}

// parseMacData parses
//
//	MacData ::= SEQUENCE {
//	  mac        DigestInfo,
//	  macSalt    OCTET STRING,
//	  iterations INTEGER DEFAULT 1
//	}
func parseMacData(s *cryptobyte.String) (*MacData, error) {
	var md MacData
	var seq cryptobyte.String

	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: failed to read MacData SEQUENCE", ErrDecode)
	}

	var digestSeq cryptobyte.String
	if !seq.ReadASN1(&digestSeq, cryptobyte_asn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: failed to read DigestInfo", ErrDecode)
	}

	if err := parseAlgorithmIdentifier(&digestSeq, &md.Mac.Algorithm); err != nil {
		return nil, err
	}

	if !digestSeq.ReadASN1Bytes(&md.Mac.Digest, cryptobyte_asn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: failed to read digest", ErrDecode)
	}

	if !digestSeq.Empty() {
		return nil, fmt.Errorf("%w: unexpected data after digest", ErrDecode)
	}

	if !seq.ReadASN1Bytes(&md.MacSalt, cryptobyte_asn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: failed to read macSalt", ErrDecode)
	}

	if seq.PeekASN1Tag(cryptobyte_asn1.INTEGER) {
		if !seq.ReadASN1Integer(&md.Iterations) {
			return nil, fmt.Errorf("%w: failed to read iterations", ErrDecode)
		}
		if md.Iterations < 0 {
			return nil, fmt.Errorf("%w: negative iterations %d", ErrDecode, md.Iterations)
		}
	}

	if !seq.Empty() {
		return nil, fmt.Errorf("%w: unexpected data after iterations", ErrDecode)
	}

	return &md, nil
}

func parseAlgorithmIdentifier(s *cryptobyte.String, alg *pkix.AlgorithmIdentifier) error {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
		return fmt.Errorf("%w: failed to read AlgorithmIdentifier", ErrDecode)
	}

	if !seq.ReadASN1ObjectIdentifier(&alg.Algorithm) {
		return fmt.Errorf("%w: failed to read algorithm OID", ErrDecode)
	}

	// parameters are NULL or absent for digests, anything else is kept raw
	if !seq.Empty() {
		alg.Parameters = asn1.RawValue{FullBytes: []byte(seq)}
	}

	return nil
}

// extractOctetString extracts data from OCTET STRING wrapper
func extractOctetString(data []byte) ([]byte, error) {
	input := cryptobyte.String(data)
	var result []byte
	if !input.ReadASN1Bytes(&result, cryptobyte_asn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: failed to read OCTET STRING", ErrDecode)
	}
	if !input.Empty() {
		return nil, fmt.Errorf("%w: unexpected data after OCTET STRING", ErrDecode)
	}
	return result, nil
}

// ContentTypeName returns a short name for well-known content types and the
// dotted OID otherwise.
func ContentTypeName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(OIDData):
		return "data"
	case oid.Equal(OIDSignedData):
		return "signedData"
	case oid.Equal(OIDEnvelopedData):
		return "envelopedData"
	case oid.Equal(OIDEncryptedData):
		return "encryptedData"
	default:
		return oid.String()
	}
}
