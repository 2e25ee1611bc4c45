// Package password はargon2idによるパスワードハッシュの生成と検証を提供する。
//
// ハッシュはPHC文字列形式（$argon2id$v=19$m=...,t=...,p=...$salt$hash）で保存する。
// ソルトは生成時に毎回crypto/randから取得し、呼び出し元からは指定できない。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// Params はargon2idのコストパラメータ。
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams は対話的ログインのレイテンシを許容範囲に保ちつつ
// オフライン総当たりに耐えるパラメータ（19MiB、2回、1スレッド）。
var DefaultParams = Params{
	Memory:      19456,
	Time:        2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher はargon2idによるパスワードハッシュ機能を提供する。状態を持たない。
type Hasher struct {
	params Params
	rand   io.Reader
}

// NewHasher は指定パラメータのHasherを生成する。
func NewHasher(params Params) *Hasher {
	return &Hasher{params: params, rand: rand.Reader}
}

// Hash はランダムなソルトでパスワードをハッシュ化し、PHC文字列を返す。
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
// ハッシュが空・不正形式・未対応バージョンの場合もエラーにせずfalseを返す。
func (h *Hasher) Verify(encodedHash, password string) bool {
	p, salt, key, ok := decodeHash(encodedHash)
	if !ok {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

// decodeHash はPHC文字列をパラメータ、ソルト、ハッシュに分解する。
func decodeHash(encoded string) (Params, []byte, []byte, bool) {
	var p Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return p, nil, nil, false
	}

	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, nil, nil, false
	}

	for _, kv := range strings.Split(parts[3], ",") {
		name, value, found := strings.Cut(kv, "=")
		if !found {
			return p, nil, nil, false
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return p, nil, nil, false
		}
		switch name {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Time = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, false
			}
			p.Parallelism = uint8(n)
		default:
			return p, nil, nil, false
		}
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return p, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, false
	}
	return p, salt, key, true
}
