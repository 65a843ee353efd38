package volume

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3 is an in-memory S3 implementation for testing. ListObjectsV2
// honours Prefix, Delimiter and MaxKeys-style paging via pageSize.
type mockS3 struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	pageSize int
	putErr   error
	listErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), pageSize: 1000}
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, _ := io.ReadAll(params.Body)
	m.mu.Lock()
	m.objects[*params.Key] = data
	m.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	data, ok := m.objects[*params.Key]
	m.mu.RUnlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, *params.Key)
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	prefix := aws.ToString(params.Prefix)
	delim := aws.ToString(params.Delimiter)

	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	// Collapse keys below a delimiter into common prefixes.
	type item struct {
		key      string
		isPrefix bool
	}
	var items []item
	seen := map[string]bool{}
	for _, k := range keys {
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, item{key: cp, isPrefix: true})
				}
				continue
			}
		}
		items = append(items, item{key: k})
	}

	start := 0
	if params.ContinuationToken != nil {
		for i, it := range items {
			if it.key == *params.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := min(start+m.pageSize, len(items))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	for _, it := range items[start:end] {
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(it.key)})
		} else {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(it.key)})
		}
	}
	if end < len(items) {
		out.NextContinuationToken = aws.String(items[end].key)
	}
	return out, nil
}

func TestS3_WriteRead(t *testing.T) {
	mock := newMockS3()
	v := NewS3(mock, "test-bucket", "sd")
	ctx := context.Background()

	if err := v.WriteFile(ctx, "dev/1700000000/1700000001.pkt", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects["sd/dev/1700000000/1700000001.pkt"]; !ok {
		t.Fatalf("object stored under unexpected key: %v", mock.objects)
	}
	got, err := v.ReadFile(ctx, "dev/1700000000/1700000001.pkt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Fatalf("ReadFile = %q", got)
	}
}

func TestS3_ReadMissing(t *testing.T) {
	v := NewS3(newMockS3(), "b", "")
	if _, err := v.ReadFile(context.Background(), "nope.pkt"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestS3_ReadDir(t *testing.T) {
	mock := newMockS3()
	v := NewS3(mock, "b", "sd")
	ctx := context.Background()
	for _, name := range []string{
		"dev/1700000000/1700000001.pkt",
		"dev/1700000000/1700000002.pkt",
		"dev/1700003600/1700003601.pkt",
		"dev/readme.txt",
		"other/1.pkt",
	} {
		v.WriteFile(ctx, name, []byte("x"))
	}

	entries, err := v.ReadDir(ctx, "dev")
	if err != nil {
		t.Fatal(err)
	}
	var dirs, files []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.Name)
		} else {
			files = append(files, e.Name)
		}
	}
	if !slices.Equal(dirs, []string{"1700000000", "1700003600"}) {
		t.Errorf("dirs = %v", dirs)
	}
	if !slices.Equal(files, []string{"readme.txt"}) {
		t.Errorf("files = %v", files)
	}
}

func TestS3_ReadDirPaginates(t *testing.T) {
	mock := newMockS3()
	mock.pageSize = 2
	v := NewS3(mock, "b", "")
	ctx := context.Background()
	for _, name := range []string{"1.pkt", "2.pkt", "3.pkt", "4.pkt", "5.pkt"} {
		v.WriteFile(ctx, name, []byte("x"))
	}
	entries, err := v.ReadDir(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
}

func TestS3_Remove(t *testing.T) {
	mock := newMockS3()
	v := NewS3(mock, "b", "")
	ctx := context.Background()
	v.WriteFile(ctx, "1.pkt", []byte("x"))
	if err := v.Remove(ctx, "1.pkt"); err != nil {
		t.Fatal(err)
	}
	if len(mock.objects) != 0 {
		t.Fatalf("object not deleted: %v", mock.objects)
	}
}

func TestS3_Errors(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("s3 down")
	mock.listErr = errors.New("s3 down")
	v := NewS3(mock, "b", "")
	ctx := context.Background()
	if err := v.WriteFile(ctx, "1.pkt", nil); err == nil {
		t.Error("expected put error")
	}
	if _, err := v.ReadDir(ctx, ""); err == nil {
		t.Error("expected list error")
	}
}
