package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// PasswordCipher 数据库密码的AES-GCM加密服务
// 任意长度的输入密钥经SHA-256归一为256位，密文带随机nonce并做base64编码
type PasswordCipher struct {
	key []byte
}

// NewPasswordCipher 创建加密服务，密钥长度须在16到48字节之间
func NewPasswordCipher(key []byte) (*PasswordCipher, error) {
	if len(key) == 0 {
		return nil, errors.New("加密密钥不能为空")
	}
	if len(key) < 16 {
		return nil, errors.New("加密密钥长度不能小于16字节")
	}
	if len(key) > 48 {
		return nil, errors.New("加密密钥长度不能大于48字节")
	}

	if len(key) != 32 {
		hash := sha256.Sum256(key)
		key = hash[:]
	}

	return &PasswordCipher{key: key}, nil
}

// Encrypt 加密明文并返回base64编码的密文
// 空字符串同样会被加密，保证密文字段永远不以明文形态落库
func (c *PasswordCipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("生成nonce失败: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt 解密base64编码的密文
func (c *PasswordCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", errors.New("密文不能为空")
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64解码失败: %w", err)
	}

	gcm, err := c.newGCM()
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("加密数据长度不足")
	}

	nonce, payload := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}

	return string(plaintext), nil
}

func (c *PasswordCipher) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("创建AES cipher失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("创建GCM模式失败: %w", err)
	}
	return gcm, nil
}
