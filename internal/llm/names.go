package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var wireNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const hexDigits = "0123456789abcdef"

// EncodeToolName 把规范工具名转换为只含 [a-zA-Z0-9_-] 的线上名称。
//
// 转义规则：'-' 变为 "--"，'.' 变为 "-_"，其余非法字节变为 "-x" 加两位十六进制。
// 由于 '-' 只作为转义前缀出现，DecodeToolName 可以无歧义地还原。
func EncodeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-':
			b.WriteString("--")
		case c == '.':
			b.WriteString("-_")
		case c == '_' || isAlnum(c):
			b.WriteByte(c)
		default:
			b.WriteString("-x")
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

// DecodeToolName 还原 EncodeToolName 的结果。
func DecodeToolName(wire string) (string, error) {
	var b strings.Builder
	b.Grow(len(wire))
	for i := 0; i < len(wire); i++ {
		c := wire[i]
		if c != '-' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(wire) {
			return "", fmt.Errorf("tool name %q ends with a dangling escape", wire)
		}
		i++
		switch wire[i] {
		case '-':
			b.WriteByte('-')
		case '_':
			b.WriteByte('.')
		case 'x':
			if i+2 >= len(wire) {
				return "", fmt.Errorf("tool name %q has a truncated hex escape", wire)
			}
			hi, okHi := fromHex(wire[i+1])
			lo, okLo := fromHex(wire[i+2])
			if !okHi || !okLo {
				return "", fmt.Errorf("tool name %q has an invalid hex escape", wire)
			}
			b.WriteByte(hi<<4 | lo)
			i += 2
		default:
			return "", fmt.Errorf("tool name %q has an unknown escape -%c", wire, wire[i])
		}
	}
	return b.String(), nil
}

// ToolNameFromWire 还原模型返回的工具名。无法解码的名称原样返回，
// 由工具注册表判定为未知工具，而不是让整条回复失败。
func ToolNameFromWire(wire string) string {
	if name, err := DecodeToolName(wire); err == nil {
		return name
	}
	return wire
}

func validWireName(name string) bool {
	return wireNamePattern.MatchString(name)
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
