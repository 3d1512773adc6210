package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>notes</Name>
  <Prefix></Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>files/b.docx</Key><LastModified>2026-02-01T10:00:00.000Z</LastModified><ETag>"b"</ETag><Size>2048</Size><StorageClass>STANDARD</StorageClass></Contents>
  <Contents><Key>files/a.pdf</Key><LastModified>2026-01-01T10:00:00.000Z</LastModified><ETag>"a"</ETag><Size>1234</Size><StorageClass>STANDARD</StorageClass></Contents>
  <Contents><Key>files/readme.txt</Key><LastModified>2026-01-01T10:00:00.000Z</LastModified><ETag>"r"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

type fakeS3 struct {
	mu      sync.Mutex
	puts    map[string]http.Header
	bodies  map[string]string
	deletes []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && (r.URL.Path == "/notes" || r.URL.Path == "/notes/"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listXML)
	case r.Method == http.MethodHead && r.URL.Path == "/notes/files/a.pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Last-Modified", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("X-Amz-Meta-Title", "Algebra Basics")
		w.Header().Set("X-Amz-Meta-Price", "9.99")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && r.URL.Path == "/notes/files/b.docx":
		w.WriteHeader(http.StatusInternalServerError)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.puts[r.URL.Path] = r.Header.Clone()
		f.bodies[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"new"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		f.deletes = append(f.deletes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestStore(t *testing.T) (*R2Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{puts: map[string]http.Header{}, bodies: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDTEST", "secret", ""),
		HTTPClient:   srv.Client(),
		Retryer:      aws.NopRetryer{},
	})
	return NewR2Store(client, "notes", "files/", nil, nil), fake
}

func TestR2StoreListFiltersAndReadsMetadata(t *testing.T) {
	store, _ := newTestStore(t)

	objects, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2, "readme.txt is not a supported document")

	a := objects[0]
	assert.Equal(t, "files/a.pdf", a.Key)
	assert.Equal(t, "a.pdf", a.Name)
	assert.Equal(t, int64(1234), a.Size)
	assert.Equal(t, "Algebra Basics", a.Meta(MetaTitle))
	assert.Equal(t, "9.99", a.Meta(MetaPrice))
	assert.Equal(t, "application/pdf", a.FileType())

	b := objects[1]
	assert.Equal(t, "files/b.docx", b.Key)
	assert.Equal(t, int64(2048), b.Size)
	assert.Empty(t, b.Meta(MetaPrice), "failed HEAD degrades to listing fields")
}

func TestR2StoreHeadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Head(context.Background(), "files/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestR2StorePut(t *testing.T) {
	store, fake := newTestStore(t)

	obj, err := store.Put(context.Background(), Upload{
		FileName:    "Trig Identities.pdf",
		ContentType: "application/octet-stream",
		Size:        int64(len("%PDF-1.7")),
		Body:        strings.NewReader("%PDF-1.7"),
		Metadata:    map[string]string{"title": "Trig\nIdentities", "price": "4.50"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.Key, "files/"))
	assert.True(t, strings.HasSuffix(obj.Key, "-Trig_Identities.pdf"))
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, "Trig Identities", obj.Metadata[MetaTitle])

	headers := fake.puts["/notes/"+obj.Key]
	require.NotNil(t, headers)
	assert.Equal(t, "Trig Identities", headers.Get("X-Amz-Meta-Title"))
	assert.Equal(t, "4.50", headers.Get("X-Amz-Meta-Price"))
	assert.Equal(t, "application/pdf", headers.Get("X-Amz-Meta-Filetype"))
	assert.Equal(t, "%PDF-1.7", fake.bodies["/notes/"+obj.Key])
}

func TestR2StorePutRejectsUnsupported(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Put(context.Background(), Upload{FileName: "x.exe", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestR2StoreDelete(t *testing.T) {
	store, fake := newTestStore(t)
	require.NoError(t, store.Delete(context.Background(), "files/a.pdf"))
	assert.Equal(t, []string{"/notes/files/a.pdf"}, fake.deletes)
}

func TestR2StorePresignGet(t *testing.T) {
	store, _ := newTestStore(t)

	url, err := store.PresignGet(context.Background(), "files/a.pdf", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "/notes/files/a.pdf")
	assert.Contains(t, url, "X-Amz-Expires=604800")
	assert.Contains(t, url, "X-Amz-Signature=")
}
