package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

type AuthService struct {
	agentRepo   repositories.AgentRepository
	sessionRepo repositories.SessionRepository
	jwtSecret   string
	jwtExpiry   time.Duration
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	AgentID   uuid.UUID `json:"agentId"`
	DeviceID  string    `json:"deviceId"`
}

type TokenClaims struct {
	AgentID   uuid.UUID
	DeviceID  string
	SessionID string
}

func NewAuthService(
	agentRepo repositories.AgentRepository,
	sessionRepo repositories.SessionRepository,
	jwtSecret string,
	jwtExpiry time.Duration,
) *AuthService {
	return &AuthService{
		agentRepo:   agentRepo,
		sessionRepo: sessionRepo,
		jwtSecret:   jwtSecret,
		jwtExpiry:   jwtExpiry,
	}
}

// Login checks an agent's credentials and opens a session bound to one
// device. Inactive agents cannot log in.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidRequest)
	}

	agent, err := s.agentRepo.GetByEmail(ctx, req.Email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if !agent.IsActive || !utils.CheckPassword(agent.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	if utils.NeedsRehash(agent.PasswordHash) {
		s.rehash(ctx, agent, req.Password)
	}

	sessionID := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.jwtExpiry)
	session := &models.Session{
		ID:        sessionID,
		AgentID:   agent.ID,
		DeviceID:  req.DeviceID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.generateToken(agent.ID, req.DeviceID, sessionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AgentID:   agent.ID,
		DeviceID:  req.DeviceID,
	}, nil
}

// rehash upgrades a hash made with an older bcrypt cost. Failures only
// delay the upgrade to the next login.
func (s *AuthService) rehash(ctx context.Context, agent *models.Agent, password string) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		log.Warn("Failed to rehash password", "agentId", agent.ID, "err", err)
		return
	}
	agent.PasswordHash = hash
	if err := s.agentRepo.Update(ctx, agent); err != nil {
		log.Warn("Failed to store rehashed password", "agentId", agent.ID, "err", err)
	}
}

func (s *AuthService) generateToken(agentID uuid.UUID, deviceID, sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":       agentID.String(),
		"device_id": deviceID,
		"jti":       sessionID,
		"exp":       expiresAt.Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken checks the signature and expiry of a token. It does not
// consult the session store; see Authenticate.
func (s *AuthService) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	agentIDStr, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	deviceID, ok := claims["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		AgentID:   agentID,
		DeviceID:  deviceID,
		SessionID: sessionID,
	}, nil
}

// Authenticate verifies a token and that its session is still open.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessionRepo.GetByID(ctx, claims.SessionID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return claims, nil
}

func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.Delete(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LogoutAll closes every session of an agent, for example after it was
// deactivated.
func (s *AuthService) LogoutAll(ctx context.Context, agentID uuid.UUID) error {
	if err := s.sessionRepo.DeleteAllForAgent(ctx, agentID); err != nil {
		return fmt.Errorf("failed to logout all sessions: %w", err)
	}
	return nil
}
