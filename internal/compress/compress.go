package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type Encoding int8

const (
	EncodingIdentity Encoding = iota
	EncodingGzip
	EncodingZstd
	EncodingBr
)

var encodingLookup = map[string]Encoding{
	"":         EncodingIdentity,
	"identity": EncodingIdentity,
	"gzip":     EncodingGzip,
	"zstd":     EncodingZstd,
	"br":       EncodingBr,
}

var zstdDecoder, _ = zstd.NewReader(nil)

// Decode reverses the named Content-Encoding transform so downstream
// consumers always see plain bytes. Identity and an empty encoding
// return data untouched.
func Decode(data []byte, contentEncoding string) ([]byte, error) {
	enc, ok := encodingLookup[strings.ToLower(strings.TrimSpace(contentEncoding))]
	if !ok {
		return nil, fmt.Errorf("%s encoding not supported", contentEncoding)
	}

	switch enc {
	case EncodingGzip:
		z, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = z.Close() }()
		return io.ReadAll(z)
	case EncodingZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case EncodingBr:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	default:
		return data, nil
	}
}
