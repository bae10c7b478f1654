package pkcs12

import (
	"encoding/asn1"
	"fmt"
)

// Algorithm is the canonical lower-case name of a MAC digest algorithm as it
// appears in pfxng hash records.
type Algorithm string

const (
	MD2       Algorithm = "md2"
	MD5       Algorithm = "md5"
	SHA1      Algorithm = "sha1"
	SHA224    Algorithm = "sha224"
	SHA256    Algorithm = "sha256"
	SHA384    Algorithm = "sha384"
	SHA512    Algorithm = "sha512"
	SHA512224 Algorithm = "sha512_224"
	SHA512256 Algorithm = "sha512_256"
	SHA3224   Algorithm = "sha3_224"
	SHA3256   Algorithm = "sha3_256"
	SHA3384   Algorithm = "sha3_384"
	SHA3512   Algorithm = "sha3_512"
	SHAKE128  Algorithm = "shake128"
	SHAKE256  Algorithm = "shake256"
)

// Digest algorithm OIDs
var (
	OIDMD2       = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 2}
	OIDMD5       = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}
	OIDSHA1      = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA224    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	OIDSHA512224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 5}
	OIDSHA512256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 6}
	OIDSHA3224   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 7}
	OIDSHA3256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDSHA3512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}
	OIDSHAKE128  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 11}
	OIDSHAKE256  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 12}
)

var digestAlgorithms = []struct {
	oid  asn1.ObjectIdentifier
	name Algorithm
}{
	{OIDMD2, MD2},
	{OIDMD5, MD5},
	{OIDSHA1, SHA1},
	{OIDSHA224, SHA224},
	{OIDSHA256, SHA256},
	{OIDSHA384, SHA384},
	{OIDSHA512, SHA512},
	{OIDSHA512224, SHA512224},
	{OIDSHA512256, SHA512256},
	{OIDSHA3224, SHA3224},
	{OIDSHA3256, SHA3256},
	{OIDSHA3384, SHA3384},
	{OIDSHA3512, SHA3512},
	{OIDSHAKE128, SHAKE128},
	{OIDSHAKE256, SHAKE256},
}

// keyLengths is the catalog of algorithms a pfxng record can carry.
var keyLengths = map[Algorithm]int{
	SHA1:      20,
	SHA224:    28,
	SHA256:    32,
	SHA384:    48,
	SHA512:    64,
	SHA512224: 28,
	SHA512256: 32,
}

// AlgorithmForOID maps a digest algorithm OID to its name. The boolean is
// false for OIDs that are not digest algorithms known to this package.
func AlgorithmForOID(oid asn1.ObjectIdentifier) (Algorithm, bool) {
	for _, d := range digestAlgorithms {
		if d.oid.Equal(oid) {
			return d.name, true
		}
	}
	return "", false
}

// KeyLength returns the output size in bytes of a supported MAC digest.
func KeyLength(alg Algorithm) (int, error) {
	n, ok := keyLengths[alg]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	return n, nil
}

// MacParameters is everything an offline attack on the PFX MAC needs.
type MacParameters struct {
	Algorithm  Algorithm
	KeyLength  int
	Salt       []byte
	Iterations int
	// Digest is the stored MAC. Its length is reported as found, it is not
	// compared with KeyLength.
	Digest []byte
	// Payload is the encoded AuthenticatedSafe the MAC was computed over.
	Payload []byte
}

// ExtractMac pulls the MAC parameters out of a decoded PFX.
func ExtractMac(pfx *PFX) (*MacParameters, error) {
	if pfx.MacData == nil {
		return nil, ErrMissingMacData
	}
	md := pfx.MacData

	alg, ok := AlgorithmForOID(md.Mac.Algorithm.Algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, md.Mac.Algorithm.Algorithm)
	}

	keyLength, err := KeyLength(alg)
	if err != nil {
		return nil, err
	}

	// iterations INTEGER DEFAULT 1; an explicit 0 is treated the same way
	iterations := md.Iterations
	if iterations == 0 {
		iterations = 1
	}

	return &MacParameters{
		Algorithm:  alg,
		KeyLength:  keyLength,
		Salt:       md.MacSalt,
		Iterations: iterations,
		Digest:     md.Mac.Digest,
		Payload:    pfx.RawAuthSafe,
	}, nil
}
