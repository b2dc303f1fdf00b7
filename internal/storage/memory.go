package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("signature does not match")
	ErrSignatureExpired = errors.New("request has expired")
)

// ObjectsPath is the route prefix under which MemoryStorage URLs are served.
const ObjectsPath = "/objects/"

type memoryObject struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

// MemoryStorage is an in-process object store. Its presigned URLs point back
// at the serving HTTP API and carry an HMAC signature over method, key and
// expiry.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewMemoryStorage creates a store whose URLs are rooted at baseURL.
func NewMemoryStorage(baseURL, secret string) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}
}

// SetBaseURL changes the root of future presigned URLs.
func (s *MemoryStorage) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimSuffix(baseURL, "/")
}

func (s *MemoryStorage) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	return s.presign("PUT", key, expires)
}

func (s *MemoryStorage) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	return s.presign("GET", key, expires)
}

func (s *MemoryStorage) presign(method, key string, expires time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("presign %s: empty key", method)
	}
	if expires <= 0 {
		return "", fmt.Errorf("presign %s: expiry must be positive", method)
	}

	s.mu.RLock()
	base := s.baseURL
	s.mu.RUnlock()

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("presign %s: invalid base url: %w", method, err)
	}

	expiresAt := strconv.FormatInt(s.now().Add(expires).Unix(), 10)
	query := url.Values{}
	query.Set("expires", expiresAt)
	query.Set("signature", s.sign(method, key, expiresAt))

	u.Path = strings.TrimSuffix(u.Path, "/") + ObjectsPath + key
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Verify checks a presigned request for key.
func (s *MemoryStorage) Verify(method, key string, query url.Values) error {
	expiresAt := query.Get("expires")
	signature := query.Get("signature")
	if expiresAt == "" || signature == "" {
		return ErrSignatureInvalid
	}

	expected := s.sign(method, key, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}

	unix, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if s.now().After(time.Unix(unix, 0)) {
		return ErrSignatureExpired
	}
	return nil
}

func (s *MemoryStorage) sign(method, key, expiresAt string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(method + "\n" + key + "\n" + expiresAt))
	return hex.EncodeToString(mac.Sum(nil))
}

// PutObject stores the content of r under key, replacing any previous object.
func (s *MemoryStorage) PutObject(ctx context.Context, key string, r io.Reader, contentType string) (ObjectInfo, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}

	sum := md5.Sum(buf.Bytes())
	obj := memoryObject{
		data:        buf.Bytes(),
		etag:        hex.EncodeToString(sum[:]),
		contentType: contentType,
		modified:    s.now(),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return obj.info(key), nil
}

// GetObject returns a copy of the object's content.
func (s *MemoryStorage) GetObject(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.info(key), nil
}

func (s *MemoryStorage) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
	}
	return obj.info(key), nil
}

func (s *MemoryStorage) RemoveObject(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (o memoryObject) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}

var _ ObjectStorage = (*MemoryStorage)(nil)
