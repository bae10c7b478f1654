// Package pfxtest builds small DER encoded PFX structures for tests.
package pfxtest

import (
	"encoding/asn1"
	"testing"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidData   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// Options describes the PFX to build. The zero value is a version 3 PFX
// with Data content {0xAA, 0xBB} and a sha256 MAC over salt 01020304 with
// the iterations field omitted and a digest of 32 zero bytes.
type Options struct {
	Version     int64
	ContentType asn1.ObjectIdentifier
	Payload     []byte
	NoMac       bool
	Digest      asn1.ObjectIdentifier
	Salt        []byte
	// Iterations is omitted from the encoding when zero.
	Iterations int64
	Mac        []byte
}

// Build encodes opts.
func Build(opts Options) ([]byte, error) {
	if opts.Version == 0 {
		opts.Version = 3
	}
	if opts.ContentType == nil {
		opts.ContentType = oidData
	}
	if opts.Payload == nil {
		opts.Payload = []byte{0xAA, 0xBB}
	}
	if opts.Digest == nil {
		opts.Digest = oidSHA256
	}
	if opts.Salt == nil {
		opts.Salt = []byte{0x01, 0x02, 0x03, 0x04}
	}
	if opts.Mac == nil {
		opts.Mac = make([]byte, 32)
	}

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(opts.Version)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(opts.ContentType)
			b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(opts.Payload)
			})
		})
		if opts.NoMac {
			return
		}
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(opts.Digest)
					b.AddASN1NULL()
				})
				b.AddASN1OctetString(opts.Mac)
			})
			b.AddASN1OctetString(opts.Salt)
			if opts.Iterations != 0 {
				b.AddASN1Int64(opts.Iterations)
			}
		})
	})
	return b.Bytes()
}

// MustBuild is Build for tests.
func MustBuild(t testing.TB, opts Options) []byte {
	t.Helper()
	data, err := Build(opts)
	if err != nil {
		t.Fatalf("build pfx: %v", err)
	}
	return data
}

// Sniffable returns a payload large enough for the encoded PFX to use a two
// byte outer length, which is what the signature check expects.
func Sniffable() []byte {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	return payload
}
