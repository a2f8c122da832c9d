package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPasswordCipher_RoundTrip 测试加解密往返
func TestPasswordCipher_RoundTrip(t *testing.T) {
	cipher, err := NewPasswordCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	cases := []string{"secret-password", "", "中文密码#$%", "p@ss with spaces"}
	for _, plaintext := range cases {
		encrypted, err := cipher.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)

		decrypted, err := cipher.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

// TestPasswordCipher_NonceRandomness 测试相同明文产生不同密文
func TestPasswordCipher_NonceRandomness(t *testing.T) {
	cipher, err := NewPasswordCipher([]byte("0123456789abcdef"))
	require.NoError(t, err)

	first, err := cipher.Encrypt("same-input")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same-input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

// TestNewPasswordCipher_KeyValidation 测试密钥长度校验
func TestNewPasswordCipher_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"空密钥", nil, true},
		{"过短密钥", []byte("short"), true},
		{"16字节密钥", []byte("0123456789abcdef"), false},
		{"32字节密钥", []byte("0123456789abcdef0123456789abcdef"), false},
		{"过长密钥", make([]byte, 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPasswordCipher(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestPasswordCipher_DecryptErrors 测试异常密文处理
func TestPasswordCipher_DecryptErrors(t *testing.T) {
	cipher, err := NewPasswordCipher([]byte("0123456789abcdef"))
	require.NoError(t, err)

	t.Run("空密文", func(t *testing.T) {
		_, err := cipher.Decrypt("")
		assert.Error(t, err)
	})

	t.Run("非base64密文", func(t *testing.T) {
		_, err := cipher.Decrypt("not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("密钥不匹配", func(t *testing.T) {
		other, err := NewPasswordCipher([]byte("another-32-byte-key-for-testing!"))
		require.NoError(t, err)

		encrypted, err := cipher.Encrypt("secret")
		require.NoError(t, err)

		_, err = other.Decrypt(encrypted)
		assert.Error(t, err)
	})
}
