package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Tests use it in place of S3.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	// FailUpload, when set, is returned by Upload for matching keys.
	FailUpload func(key string) error
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: map[string]memoryObject{}}
}

func (m *Memory) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if m.FailUpload != nil {
		if err := m.FailUpload(key); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return "memory://" + key, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var blobs []Blob
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			blobs = append(blobs, Blob{Key: key, ContentType: obj.contentType, Size: int64(len(obj.data))})
		}
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Key < blobs[j].Key })
	return blobs, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Put seeds an object without going through Upload.
func (m *Memory) Put(key, contentType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: bytes.Clone(data), contentType: contentType}
}

// Object returns the stored bytes and content type for key.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
