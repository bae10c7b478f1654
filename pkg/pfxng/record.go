// Package pfxng renders PKCS#12 MAC parameters as John the Ripper "pfxng"
// hash lines.
package pfxng

import (
	"encoding/hex"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stupidcerts/pfxhunt/pkg/pkcs12"
)

// Tag is the hash type marker that follows the basename.
const Tag = "$pfxng$"

// Record is one formatted hash line. Build it with Format; the fields are
// not meant to change afterwards.
type Record struct {
	Basename   string
	Algorithm  pkcs12.Algorithm
	KeyLength  int
	Iterations int
	Salt       []byte
	Payload    []byte
	Digest     []byte
	Path       string
}

// Format builds the record for the file at path.
func Format(path string, p *pkcs12.MacParameters) Record {
	return Record{
		Basename:   filepath.Base(path),
		Algorithm:  p.Algorithm,
		KeyLength:  p.KeyLength,
		Iterations: p.Iterations,
		Salt:       p.Salt,
		Payload:    p.Payload,
		Digest:     p.Digest,
		Path:       path,
	}
}

// String renders
//
//	<basename>:$pfxng$<algo>$<keylen>$<iterations>$<saltlen>$<salt>$<payload>$<digest>:::::<path>
//
// The five colons are the empty reserved fields of the john account format.
func (r Record) String() string {
	var sb strings.Builder
	sb.Grow(len(r.Basename) + len(r.Path) + 2*(len(r.Salt)+len(r.Payload)+len(r.Digest)) + 48)

	sb.WriteString(r.Basename)
	sb.WriteString(":")
	sb.WriteString(Tag)
	sb.WriteString(string(r.Algorithm))
	sb.WriteString("$")
	sb.WriteString(strconv.Itoa(r.KeyLength))
	sb.WriteString("$")
	sb.WriteString(strconv.Itoa(r.Iterations))
	sb.WriteString("$")
	sb.WriteString(strconv.Itoa(len(r.Salt)))
	sb.WriteString("$")
	sb.WriteString(hex.EncodeToString(r.Salt))
	sb.WriteString("$")
	sb.WriteString(hex.EncodeToString(r.Payload))
	sb.WriteString("$")
	sb.WriteString(hex.EncodeToString(r.Digest))
	sb.WriteString(":::::")
	sb.WriteString(r.Path)
	return sb.String()
}

// WriteTo writes the record followed by a newline in a single Write call.
func (r Record) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.String()+"\n")
	return int64(n), err
}
