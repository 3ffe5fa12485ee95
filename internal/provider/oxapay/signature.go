package oxapay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/davinsptra/cryptobroker/internal/provider"
)

// VerifySignature 校验回调签名：对规范化（键排序、紧凑）后的 JSON 报文做
// HMAC-SHA512，与请求头里的十六进制签名比较。
func VerifySignature(secret string, payload []byte, signature string) error {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrBadSignature, err)
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return provider.ErrBadSignature
	}
	return nil
}

// CanonicalJSON 把任意 JSON 报文重排为网关签名时的规范形式：
// 键升序、无空白、HTML 字符不转义、非 ASCII 一律 \u 转义。
// 数字保留原始字面量，避免浮点重编码改变报文。
func CanonicalJSON(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}

	// encoding/json 序列化 map 时按键排序，嵌套对象同样生效
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII 把 0x7F 以上的字符转成 \uXXXX，BMP 外转代理对。
// 规范形式里非 ASCII 只出现在字符串字面量内，整体扫描是安全的。
func escapeNonASCII(b []byte) []byte {
	var out bytes.Buffer
	for _, r := range string(b) {
		switch {
		case r < 0x80:
			out.WriteRune(r)
		case r > 0xffff:
			r -= 0x10000
			fmt.Fprintf(&out, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
		default:
			fmt.Fprintf(&out, `\u%04x`, r)
		}
	}
	return out.Bytes()
}
