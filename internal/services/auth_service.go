package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/primeinvest/backend/internal/models"
)

const maxFailedLoginAttempts = 5

// AuthService authenticates console administrators. Sessions are stateless
// JWTs; logout blacklists the token in Redis for the remainder of its life.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	Admin models.Admin `json:"admin"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Login authenticates an administrator with email and password. Repeated
// failures lock the account for fifteen minutes.
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var admin models.Admin
	var hashedPassword string
	var lockedUntil sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, email, name, role, password, failed_login_attempts, locked_until
		FROM admins WHERE email = $1
	`, strings.ToLower(req.Email)).Scan(&admin.ID, &admin.Email, &admin.Name, &admin.Role,
		&hashedPassword, &admin.FailedLoginAttempts, &lockedUntil)
	if err != nil {
		log.Printf("[AUTH] Admin not found for email: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if lockedUntil.Valid && lockedUntil.Time.After(time.Now()) {
		log.Printf("[AUTH] Account locked for %s until %s", admin.Email, lockedUntil.Time.Format(time.RFC3339))
		SendErrorResponse(w, "Account temporarily locked", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		s.recordFailedLogin(&admin)
		log.Printf("[AUTH] Invalid password for admin: %s", admin.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if _, err := s.db.Exec(`
		UPDATE admins SET failed_login_attempts = 0, locked_until = NULL, last_login = NOW() WHERE id = $1
	`, admin.ID); err != nil {
		log.Printf("[AUTH] Failed to reset login counters for %s: %v", admin.Email, err)
	}

	token, err := generateJWT(admin.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for admin %s: %v", admin.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for admin %s (%s)", admin.ID, admin.Email)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Admin: admin})
}

func (s *AuthService) recordFailedLogin(admin *models.Admin) {
	attempts := admin.FailedLoginAttempts + 1
	query := `UPDATE admins SET failed_login_attempts = $1 WHERE id = $2`
	args := []any{attempts, admin.ID}

	if attempts >= maxFailedLoginAttempts {
		query = `UPDATE admins SET failed_login_attempts = $1, locked_until = NOW() + INTERVAL '15 minutes' WHERE id = $2`
		log.Printf("[AUTH] Locking admin %s after %d failed attempts", admin.Email, attempts)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		log.Printf("[AUTH] Failed to record failed login for %s: %v", admin.Email, err)
	}
}

// Logout blacklists the bearer token until its natural expiry.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated administrator's profile.
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	adminID := r.Context().Value("adminID")
	if adminID == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var admin models.Admin
	var lastLogin sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, email, name, role, last_login FROM admins WHERE id = $1
	`, adminID).Scan(&admin.ID, &admin.Email, &admin.Name, &admin.Role, &lastLogin)
	if err != nil {
		if err == sql.ErrNoRows {
			http.Error(w, "Admin not found", http.StatusNotFound)
		} else {
			log.Printf("[AUTH] Failed to fetch admin %v: %v", adminID, err)
			http.Error(w, "Failed to fetch admin details", http.StatusInternalServerError)
		}
		return
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		admin.LastLogin = &t
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(admin)
}

func generateJWT(adminID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin_id": adminID,
		"exp":      time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// HashPassword derives an argon2id hash in "salt$hash" form for storage.
func HashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
