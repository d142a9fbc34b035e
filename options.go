package odbc

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultBufferedQueryLimit is the default memory ceiling for a buffered
// result set, in KiB.
const DefaultBufferedQueryLimit int64 = 10240

// Encoding selects how character data is exchanged with the driver.
type Encoding int

const (
	// EncodingChar reads character data in the connection charset.
	EncodingChar Encoding = iota
	// EncodingBinary reads character data as raw bytes.
	EncodingBinary
	// EncodingUTF8 reads narrow character columns as wide characters and
	// hands them to callers as UTF-8.
	EncodingUTF8
)

func (e Encoding) String() string {
	switch e {
	case EncodingChar:
		return "char"
	case EncodingBinary:
		return "binary"
	case EncodingUTF8:
		return "utf8"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding parses the names produced by Encoding.String.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "char", "system":
		return EncodingChar, nil
	case "binary":
		return EncodingBinary, nil
	case "utf8", "utf-8":
		return EncodingUTF8, nil
	}
	return 0, errors.Errorf("unknown encoding %q", s)
}

// Options configures how a result set is produced from a live cursor.
type Options struct {
	// Buffered materializes the whole result set before the first fetch.
	Buffered bool
	// BufferedQueryLimit is the memory ceiling of a buffered result set in KiB.
	BufferedQueryLimit int64
	// Encoding of character data exchanged with the driver.
	Encoding Encoding
	// Charset of narrow strings under EncodingChar. Nil means UTF-8.
	Charset encoding.Encoding
}

// DefaultOptions returns unbuffered options with the default limit.
func DefaultOptions() Options {
	return Options{
		BufferedQueryLimit: DefaultBufferedQueryLimit,
		Encoding:           EncodingChar,
		Charset:            unicode.UTF8,
	}
}

func (o Options) validate() error {
	if o.BufferedQueryLimit <= 0 {
		return &Error{
			SQLState:    SQLStateDriverSpecific,
			NativeError: nativeInvalidBufferLimit,
			Message:     fmt.Sprintf("Invalid value for the buffered query limit: %d. It must be greater than 0", o.BufferedQueryLimit),
		}
	}
	switch o.Encoding {
	case EncodingChar, EncodingBinary, EncodingUTF8:
	default:
		return errors.Errorf("invalid encoding %v", o.Encoding)
	}
	return nil
}

// narrowCharset is the charset of SQL_C_CHAR data for these options.
func (o Options) narrowCharset() encoding.Encoding {
	if o.Encoding == EncodingUTF8 || o.Charset == nil {
		return unicode.UTF8
	}
	return o.Charset
}

// CharsetByName resolves an IANA charset name such as "ISO-8859-1" or
// "windows-1252".
func CharsetByName(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown charset %q", name)
	}
	if enc == nil {
		return nil, errors.Errorf("charset %q is not supported", name)
	}
	return enc, nil
}
