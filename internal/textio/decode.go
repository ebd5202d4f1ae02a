// Package textio 把输入文档解码为 UTF-8。检测偏移基于码点，必须先统一编码。
package textio

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Auto 自动检测编码
const Auto = "auto"

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode 按指定编码解码，返回文本与实际使用的编码名。
//
// auto 模式依次判断 BOM、合法 UTF-8，最后回落到 Windows-1252，
// 这是西语旧系统导出文件最常见的编码。
func Decode(data []byte, name string) (string, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == Auto {
		return detect(data)
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", "", fmt.Errorf("unknown encoding %q", name)
	}
	canonical, _ := htmlindex.Name(enc)
	if enc == encoding.Nop || canonical == "utf-8" {
		data = bytes.TrimPrefix(data, bomUTF8)
		if !utf8.Valid(data) {
			return "", "", fmt.Errorf("input is not valid utf-8")
		}
		return string(data), "utf-8", nil
	}

	text, err := decodeWith(enc, data)
	if err != nil {
		return "", "", err
	}
	return text, canonical, nil
}

func detect(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		data = data[len(bomUTF8):]
		if !utf8.Valid(data) {
			return "", "", fmt.Errorf("input has utf-8 bom but invalid utf-8 content")
		}
		return string(data), "utf-8", nil
	case bytes.HasPrefix(data, bomUTF16LE):
		text, err := decodeWith(xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM), data[2:])
		return text, "utf-16le", err
	case bytes.HasPrefix(data, bomUTF16BE):
		text, err := decodeWith(xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM), data[2:])
		return text, "utf-16be", err
	case utf8.Valid(data):
		return string(data), "utf-8", nil
	}
	text, err := decodeWith(charmap.Windows1252, data)
	return text, "windows-1252", err
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	return string(out), nil
}
