package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a download token does not match its object
var ErrInvalidToken = errors.New("invalid download token")

// LocalStore keeps objects on the local filesystem. Download URLs carry a signed
// token naming the object, so only resolved URLs can fetch it.
type LocalStore struct {
	dir     string
	baseURL string
	secret  []byte
}

// NewLocalStore creates a filesystem-backed blob store rooted at dir
func NewLocalStore(dir, baseURL, secret string) (*LocalStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("local storage requires a signing secret")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
	}, nil
}

// Put implements BlobStore
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	// Link fails if the target exists, keeping objects immutable
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

// URL implements BlobStore
func (s *LocalStore) URL(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to stat %s: %w", name, err)
	}

	token, err := s.sign(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/files/%s?token=%s", s.baseURL, name, url.QueryEscape(token)), nil
}

// Open verifies the download token and opens the object for reading
func (s *LocalStore) Open(name, token string) (*os.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.verify(name, token); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

func (s *LocalStore) sign(name string) (string, error) {
	claims := jwt.RegisteredClaims{Subject: name}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign download token: %w", err)
	}
	return signed, nil
}

func (s *LocalStore) verify(name, tokenString string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != name {
		return ErrInvalidToken
	}
	return nil
}
