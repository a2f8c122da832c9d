package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JWTService 基于RS256的JWT认证服务
// 撤销的token按JTI记入Redis黑名单，条目随token过期自动清除
type JWTService struct {
	privateKey      *rsa.PrivateKey
	publicKey       *rsa.PublicKey
	issuer          string
	audience        string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	redisClient     redis.UniversalClient
	logger          *zap.Logger
}

// JWTConfig JWT配置
type JWTConfig struct {
	PrivateKeyPath   string        `json:"private_key_path"`
	PublicKeyPath    string        `json:"public_key_path"`
	Issuer           string        `json:"issuer"`
	Audience         string        `json:"audience"`
	AccessTokenTTL   time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `json:"refresh_token_ttl"`
	AutoGenerateKeys bool          `json:"auto_generate_keys"`
}

// DefaultJWTConfig 默认JWT配置
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		PrivateKeyPath:   "./configs/jwt_private.pem",
		PublicKeyPath:    "./configs/jwt_public.pem",
		Issuer:           "sqlchat-api",
		Audience:         "sqlchat-users",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
		AutoGenerateKeys: true,
	}
}

// CustomClaims 应用自定义Claims
type CustomClaims struct {
	UserID    int64  `json:"uid"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// Validate 实现jwt.ClaimsValidator接口
func (c CustomClaims) Validate() error {
	switch {
	case c.UserID <= 0:
		return errors.New("claims missing a valid user id")
	case c.Username == "":
		return errors.New("claims missing username")
	case c.TokenType != "access" && c.TokenType != "refresh":
		return fmt.Errorf("unrecognized token type %q", c.TokenType)
	}
	return nil
}

// TokenPair 访问令牌和刷新令牌对
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewJWTService 创建JWT服务，redisClient为nil时撤销功能不可用
func NewJWTService(config *JWTConfig, redisClient redis.UniversalClient, logger *zap.Logger) (*JWTService, error) {
	if config == nil {
		config = DefaultJWTConfig()
	}

	service := &JWTService{
		issuer:          config.Issuer,
		audience:        config.Audience,
		accessTokenTTL:  config.AccessTokenTTL,
		refreshTokenTTL: config.RefreshTokenTTL,
		redisClient:     redisClient,
		logger:          logger,
	}

	if err := service.loadOrGenerateKeys(config); err != nil {
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}

	logger.Info("JWT service initialized",
		zap.String("issuer", config.Issuer),
		zap.Duration("access_ttl", config.AccessTokenTTL),
		zap.Duration("refresh_ttl", config.RefreshTokenTTL),
		zap.Bool("revocation_enabled", redisClient != nil))

	return service, nil
}

// GenerateTokenPair 为用户签发访问和刷新令牌
func (j *JWTService) GenerateTokenPair(userID int64, username, role string) (*TokenPair, error) {
	now := time.Now()

	accessTokenString, err := j.signToken(userID, username, role, "access", now, j.accessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshTokenString, err := j.signToken(userID, username, role, "refresh", now, j.refreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int64(j.accessTokenTTL.Seconds()),
		ExpiresAt:    now.Add(j.accessTokenTTL),
	}, nil
}

func (j *JWTService) signToken(userID int64, username, role, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := &CustomClaims{
		UserID:    userID,
		Username:  username,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   fmt.Sprintf("user:%d", userID),
			Audience:  jwt.ClaimStrings{j.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(j.privateKey)
}

// ValidateToken 验证签名和标准Claims
func (j *JWTService) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing algorithm %v", token.Header["alg"])
		}
		return j.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token rejected")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	if err := claims.Validate(); err != nil {
		return nil, fmt.Errorf("claims check: %w", err)
	}

	return claims, nil
}

// ValidateAccessToken 验证并要求token类型为access
func (j *JWTService) ValidateAccessToken(tokenString string) (*CustomClaims, error) {
	return j.validateTyped(tokenString, "access")
}

// ValidateRefreshToken 验证并要求token类型为refresh
func (j *JWTService) ValidateRefreshToken(tokenString string) (*CustomClaims, error) {
	return j.validateTyped(tokenString, "refresh")
}

func (j *JWTService) validateTyped(tokenString, wantType string) (*CustomClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("expected %s token, got %s", wantType, claims.TokenType)
	}
	return claims, nil
}

// RefreshTokenPair 用刷新令牌换发新的令牌对
// 旧刷新令牌同时撤销，避免重放
func (j *JWTService) RefreshTokenPair(ctx context.Context, refreshTokenString string) (*TokenPair, error) {
	claims, err := j.ValidateRefreshToken(refreshTokenString)
	if err != nil {
		return nil, fmt.Errorf("refresh token not accepted: %w", err)
	}

	revoked, err := j.IsTokenRevoked(ctx, claims)
	if err != nil {
		j.logger.Warn("revocation check failed, proceeding", zap.Error(err))
	} else if revoked {
		return nil, errors.New("refresh token has been revoked")
	}

	if err := j.revokeClaims(ctx, claims); err != nil {
		j.logger.Warn("failed to revoke old refresh token", zap.Error(err))
	}

	return j.GenerateTokenPair(claims.UserID, claims.Username, claims.Role)
}

// RevokeToken 撤销token，JTI记入Redis黑名单直到自然过期
func (j *JWTService) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := j.GetTokenClaims(tokenString)
	if err != nil {
		return fmt.Errorf("parse token for revocation: %w", err)
	}
	return j.revokeClaims(ctx, claims)
}

func (j *JWTService) revokeClaims(ctx context.Context, claims *CustomClaims) error {
	if j.redisClient == nil {
		return errors.New("token revocation requires redis")
	}

	ttl := j.accessTokenTTL
	if expTime, err := claims.GetExpirationTime(); err == nil && expTime != nil {
		ttl = time.Until(expTime.Time)
	}
	if ttl <= 0 {
		return nil
	}

	key := blacklistKey(claims.ID)
	if err := j.redisClient.Set(ctx, key, claims.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	j.logger.Info("token revoked",
		zap.String("jti", claims.ID),
		zap.Int64("user_id", claims.UserID))
	return nil
}

// IsTokenRevoked 检查token是否在黑名单中
func (j *JWTService) IsTokenRevoked(ctx context.Context, claims *CustomClaims) (bool, error) {
	if j.redisClient == nil || claims.ID == "" {
		return false, nil
	}

	exists, err := j.redisClient.Exists(ctx, blacklistKey(claims.ID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// GetTokenClaims 解析Claims，不校验有效期
func (j *JWTService) GetTokenClaims(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return j.publicKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return claims, nil
}

// IsTokenExpiringSoon 判断token是否将在threshold内过期
func (j *JWTService) IsTokenExpiringSoon(claims *CustomClaims, threshold time.Duration) bool {
	expTime, err := claims.GetExpirationTime()
	if err != nil || expTime == nil {
		return false
	}
	return time.Until(expTime.Time) <= threshold
}

func (j *JWTService) loadOrGenerateKeys(config *JWTConfig) error {
	if config.PrivateKeyPath != "" && config.PublicKeyPath != "" {
		err := j.loadKeysFromFile(config.PrivateKeyPath, config.PublicKeyPath)
		if err == nil {
			j.logger.Info("RSA keys loaded",
				zap.String("private_key", config.PrivateKeyPath),
				zap.String("public_key", config.PublicKeyPath))
			return nil
		}
		if !config.AutoGenerateKeys {
			return fmt.Errorf("load signing keys: %w", err)
		}
		j.logger.Warn("signing keys unreadable, generating a fresh pair", zap.Error(err))
	}

	if !config.AutoGenerateKeys {
		return errors.New("no signing keys configured and auto-generation disabled")
	}
	return j.generateKeys()
}

func (j *JWTService) loadKeysFromFile(privateKeyPath, publicKeyPath string) error {
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", privateKeyPath, err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyData)
	if err != nil {
		return fmt.Errorf("parse private key %s: %w", privateKeyPath, err)
	}

	publicKeyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", publicKeyPath, err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyData)
	if err != nil {
		return fmt.Errorf("parse public key %s: %w", publicKeyPath, err)
	}

	j.privateKey = privateKey
	j.publicKey = publicKey
	return nil
}

func (j *JWTService) generateKeys() error {
	j.logger.Info("generating RSA key pair for JWT signing")

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate RSA key: %w", err)
	}

	j.privateKey = privateKey
	j.publicKey = &privateKey.PublicKey
	return nil
}

// SaveKeysToFile 将密钥对保存为PEM文件，私钥权限0600
func (j *JWTService) SaveKeysToFile(privateKeyPath, publicKeyPath string) error {
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(j.privateKey)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes})
	if err := os.WriteFile(privateKeyPath, privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("write %s: %w", privateKeyPath, err)
	}

	publicKeyPEM, err := j.GetPublicKeyPEM()
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, publicKeyPEM, 0644); err != nil {
		return fmt.Errorf("write %s: %w", publicKeyPath, err)
	}

	j.logger.Info("JWT keys written",
		zap.String("private_key", privateKeyPath),
		zap.String("public_key", publicKeyPath))
	return nil
}

// GetPublicKeyPEM 返回PEM编码的公钥，供外部服务验签
func (j *JWTService) GetPublicKeyPEM() ([]byte, error) {
	publicKeyBytes, err := x509.MarshalPKIXPublicKey(j.publicKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes}), nil
}

// ExtractTokenFromHeader 从Authorization头提取Bearer token
func ExtractTokenFromHeader(authHeader string) (string, error) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", errors.New("authorization header is not a bearer token")
	}
	if token == "" {
		return "", errors.New("bearer token is empty")
	}
	return token, nil
}

func blacklistKey(jti string) string {
	return "sqlchat:auth:blacklist:" + jti
}
