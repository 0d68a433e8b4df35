package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/securebank/backend/internal/config"
	"github.com/securebank/backend/internal/crypto"
	"golang.org/x/crypto/bcrypt"
)

// startingBalance is credited to every new account at registration.
const startingBalance = "1000.00"

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	codec     *crypto.Codec
	validator *ValidationHelper
	jwtSecret string
	jwtExpiry time.Duration
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"` // Account username
	Password string `json:"password" validate:"required,min=6"`       // Account password
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"` // Account username
	Password string `json:"password" validate:"required,min=6"`                 // Account password
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string      `json:"token"` // JWT bearer token
	User  AccountInfo `json:"user"`  // Account information
}

// AccountInfo is the public view of an account
type AccountInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, codec *crypto.Codec, jwtCfg config.JWTConfig) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		codec:     codec,
		validator: NewValidationHelper(),
		jwtSecret: jwtCfg.SecretKey,
		jwtExpiry: time.Duration(jwtCfg.ExpiryHours) * time.Hour,
	}
}

func (s *AuthService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

// Register handles account registration. Every new account receives its
// own IV and an encrypted starting balance.
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	username := strings.ToLower(req.Username)
	log.Printf("[AUTH] Registration request for username: %s", username)

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", username, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	iv, err := crypto.NewIV()
	if err != nil {
		log.Printf("[AUTH] IV generation failed for %s: %v", username, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	encryptedBalance, err := s.codec.Encrypt(startingBalance, iv)
	if err != nil {
		log.Printf("[AUTH] Balance encryption failed for %s: %v", username, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	userID := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO users (id, username, hashed_password, iv, balance, is_admin, version, created_at)
		VALUES ($1, $2, $3, $4, $5, false, 1, $6)`,
		userID, username, string(hashedPassword), base64.StdEncoding.EncodeToString(iv),
		encryptedBalance, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			log.Printf("[AUTH] Username already taken: %s", username)
			s.sendErrorResponse(w, "Username Already Exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", username, err)
		s.sendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %s, Username: %s", userID, username)

	token, err := s.generateJWT(username)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", username, err)
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	response := AuthResponse{
		Token: token,
		User:  AccountInfo{ID: userID, Username: username},
	}

	log.Printf("[AUTH] Registration successful for %s", username)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// Login handles account authentication
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	username := strings.ToLower(req.Username)
	log.Printf("[AUTH] Login request for username: %s", username)

	var info AccountInfo
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT id, username, hashed_password, is_admin FROM users WHERE username = $1
	`, username).Scan(&info.ID, &info.Username, &hashedPassword, &info.IsAdmin)
	if err != nil {
		log.Printf("[AUTH] User not found: %s", username)
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)) != nil {
		log.Printf("[AUTH] Invalid password for user: %s", username)
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.generateJWT(username)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", username, err)
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for %s", username)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: info})
}

// Logout blacklists the presented token until it would have expired.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			if err := s.redis.Set(ctx, key, "1", s.jwtExpiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

func (s *AuthService) generateJWT(username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(s.jwtExpiry).Unix(),
		"iat": time.Now().Unix(),
	})
	return token.SignedString([]byte(s.jwtSecret))
}
