package mailparser

import (
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
)

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-2022-jp":
		return japanese.ISO2022JP.NewDecoder().Reader(input), nil
	case "utf-8", "us-ascii", "":
		return input, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		// 未知の文字コードはそのまま返す
		return input, nil
	}
	return enc.NewDecoder().Reader(input), nil
}

func DecodeHeader(header string) (string, error) {
	dec := new(mime.WordDecoder)
	dec.CharsetReader = charsetReader
	// ヘッダーをデコード
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
