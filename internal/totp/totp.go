// Package totp はRFC 6238のTOTPシークレット生成、プロビジョニングURI、QRコード、コード検証を提供する。
package totp

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period は1タイムステップの秒数。
	Period = 30
	// Skew は検証時に前後に許容するステップ数。
	Skew = 1
	// secretSize は生成するシークレットのバイト数（base32で32文字）。
	secretSize = 20
	// qrSize はQRコード画像の一辺のピクセル数。
	qrSize = 256
)

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator はTOTPの各種操作を提供する。
type Generator struct {
	issuer string
	rand   io.Reader
}

// NewGenerator はプロビジョニングURIに埋め込む発行者名を指定してGeneratorを生成する。
func NewGenerator(issuer string) *Generator {
	return &Generator{issuer: issuer, rand: rand.Reader}
}

// NewSecret はパディングなしbase32のランダムなシークレットを生成する。
func (g *Generator) NewSecret() (string, error) {
	raw := make([]byte, secretSize)
	if _, err := io.ReadFull(g.rand, raw); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return b32NoPadding.EncodeToString(raw), nil
}

// ProvisioningURI は認証アプリ登録用のotpauth:// URIを返す。
func (g *Generator) ProvisioningURI(secret, accountName string) (string, error) {
	key, err := g.key(secret, accountName)
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// QRCodePNG はプロビジョニングURIをエンコードしたQRコードのPNG画像を返す。
func (g *Generator) QRCodePNG(secret, accountName string) ([]byte, error) {
	key, err := g.key(secret, accountName)
	if err != nil {
		return nil, err
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate はコードが時刻tの前後Skewステップ以内で一致するかを返す。
// 6桁の数字以外やシークレット不正の場合はfalseを返す。
func (g *Generator) Validate(secret, code string, t time.Time) bool {
	if !IsCodeShape(code) {
		return false
	}
	ok, err := totp.ValidateCustom(code, normalizeSecret(secret), t, validateOpts())
	if err != nil {
		return false
	}
	return ok
}

// Code は時刻tにおけるコードを返す。
func (g *Generator) Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(normalizeSecret(secret), t, validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// IsCodeShape はcodeが6桁の数字かを返す。
func IsCodeShape(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// key は既存のシークレットからotp.Keyを組み立てる。
func (g *Generator) key(secret, accountName string) (*otp.Key, error) {
	raw, err := b32NoPadding.DecodeString(normalizeSecret(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to decode totp secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountName,
		Period:      Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build totp key: %w", err)
	}
	return key, nil
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// normalizeSecret は手入力由来の空白、小文字、パディングを除去する。
func normalizeSecret(secret string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	return strings.TrimRight(s, "=")
}
