package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type JWTServiceTestSuite struct {
	suite.Suite
	service *JWTService
}

func (s *JWTServiceTestSuite) SetupSuite() {
	config := DefaultJWTConfig()
	// 测试环境不读文件，直接生成密钥对
	config.PrivateKeyPath = ""
	config.PublicKeyPath = ""

	service, err := NewJWTService(config, nil, zap.NewNop())
	s.Require().NoError(err)
	s.service = service
}

func TestJWTServiceSuite(t *testing.T) {
	suite.Run(t, new(JWTServiceTestSuite))
}

// TestGenerateAndValidate 测试令牌签发和验证
func (s *JWTServiceTestSuite) TestGenerateAndValidate() {
	pair, err := s.service.GenerateTokenPair(42, "alice", "user")
	s.Require().NoError(err)

	s.Equal("Bearer", pair.TokenType)
	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshToken)
	s.NotEqual(pair.AccessToken, pair.RefreshToken)

	claims, err := s.service.ValidateAccessToken(pair.AccessToken)
	s.Require().NoError(err)
	s.Equal(int64(42), claims.UserID)
	s.Equal("alice", claims.Username)
	s.Equal("user", claims.Role)
	s.Equal("access", claims.TokenType)
	s.Equal("sqlchat-api", claims.Issuer)
}

// TestTokenTypeEnforcement 测试token类型校验
func (s *JWTServiceTestSuite) TestTokenTypeEnforcement() {
	pair, err := s.service.GenerateTokenPair(1, "bob", "user")
	s.Require().NoError(err)

	_, err = s.service.ValidateAccessToken(pair.RefreshToken)
	s.Error(err)

	_, err = s.service.ValidateRefreshToken(pair.AccessToken)
	s.Error(err)

	claims, err := s.service.ValidateRefreshToken(pair.RefreshToken)
	s.Require().NoError(err)
	s.Equal("refresh", claims.TokenType)
}

// TestInvalidToken 测试非法token被拒绝
func (s *JWTServiceTestSuite) TestInvalidToken() {
	cases := []string{"", "not-a-token", "a.b.c"}
	for _, tokenString := range cases {
		_, err := s.service.ValidateToken(tokenString)
		s.Error(err, "token: %q", tokenString)
	}
}

// TestCrossServiceValidation 测试不同密钥对签发的token互不可验
func (s *JWTServiceTestSuite) TestCrossServiceValidation() {
	other, err := NewJWTService(&JWTConfig{
		Issuer:           "sqlchat-api",
		Audience:         "sqlchat-users",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
		AutoGenerateKeys: true,
	}, nil, zap.NewNop())
	s.Require().NoError(err)

	pair, err := other.GenerateTokenPair(1, "mallory", "user")
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(pair.AccessToken)
	s.Error(err)
}

// TestIsTokenExpiringSoon 测试过期预警判断
func (s *JWTServiceTestSuite) TestIsTokenExpiringSoon() {
	pair, err := s.service.GenerateTokenPair(1, "carol", "user")
	s.Require().NoError(err)

	claims, err := s.service.ValidateAccessToken(pair.AccessToken)
	s.Require().NoError(err)

	s.False(s.service.IsTokenExpiringSoon(claims, time.Minute))
	s.True(s.service.IsTokenExpiringSoon(claims, 2*time.Hour))
}

// TestExtractTokenFromHeader 测试Authorization头解析
func TestExtractTokenFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"正常Bearer头", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"空头", "", "", true},
		{"缺少Bearer前缀", "abc.def.ghi", "", true},
		{"只有前缀", "Bearer ", "", true},
		{"小写bearer", "bearer abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := ExtractTokenFromHeader(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
		})
	}
}

// TestCustomClaims_Validate 测试自定义Claims校验
func TestCustomClaims_Validate(t *testing.T) {
	valid := CustomClaims{UserID: 1, Username: "alice", TokenType: "access"}
	assert.NoError(t, valid.Validate())

	invalidUser := CustomClaims{UserID: 0, Username: "alice", TokenType: "access"}
	assert.Error(t, invalidUser.Validate())

	emptyName := CustomClaims{UserID: 1, TokenType: "access"}
	assert.Error(t, emptyName.Validate())

	badType := CustomClaims{UserID: 1, Username: "alice", TokenType: "session"}
	assert.Error(t, badType.Validate())
}
