package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// fileHeaders builds real multipart headers by parsing a generated form.
func fileHeaders(t *testing.T, files map[string][2]string) map[string]*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, f := range files {
		part, err := w.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = part.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))

	out := map[string]*multipart.FileHeader{}
	for field, fhs := range req.MultipartForm.File {
		out[field] = fhs[0]
	}
	return out
}

var fixedDay = time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, base, ext string
	}{
		{"photo.JPG", "photo", "jpg"},
		{"../../etc/passwd.png", "passwd", "png"},
		{`C:\Users\me\my report (v2).pdf`, "my_report_v2", "pdf"},
		{".png", "file", "png"},
		{"noext", "noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, ext := SanitizeFilename(tt.in)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.ext, ext)
		})
	}
}

func TestScopeFor(t *testing.T) {
	assert.Equal(t, Scope{Tenant: "db_4", Table: "products"}, ScopeFor(&domain.DatabaseDescriptor{ID: 4}, "products"))
	project := int64(9)
	assert.Equal(t, "project_9", ScopeFor(&domain.DatabaseDescriptor{ID: 4, ProjectID: &project}, "products").Tenant)
}

func TestStoreLocal(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(NewLocalStorage(dir, "/uploads/"), []string{"jpg", ".PNG"}, 0).WithClock(func() time.Time { return fixedDay })

	batch, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{
		"image": {"cat.png", "meow"},
	}), Scope{Tenant: "db_1", Table: "products"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/db_1/products/2024/03/07/cat.png", batch.URLs["image"])

	data, err := os.ReadFile(filepath.Join(dir, "db_1", "products", "2024", "03", "07", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestStoreCollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(NewLocalStorage(dir, "/uploads"), []string{"png"}, 0).WithClock(func() time.Time { return fixedDay })
	scope := Scope{Tenant: "db_1", Table: "products"}

	first, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"image": {"cat.png", "a"}}), scope, nil)
	require.NoError(t, err)
	second, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"image": {"cat.png", "b"}}), scope, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.URLs["image"], second.URLs["image"])
	assert.Regexp(t, `/cat-[0-9a-f]{8}\.png$`, second.URLs["image"])
}

func TestStoreRejectsDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(NewLocalStorage(dir, "/uploads"), []string{"png"}, 0)

	_, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{
		"image":  {"ok.png", "x"},
		"script": {"evil.exe", "x"},
	}), Scope{Tenant: "db_1", Table: "t"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written when any file is rejected")
}

func TestStorePerCallAllowList(t *testing.T) {
	p := NewPipeline(NewLocalStorage(t.TempDir(), "/uploads"), []string{"png"}, 0)
	_, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"doc": {"a.pdf", "x"}}),
		Scope{Tenant: "db_1", Table: "t"}, []string{"pdf"})
	assert.NoError(t, err)
}

func TestStoreSizeLimit(t *testing.T) {
	p := NewPipeline(NewLocalStorage(t.TempDir(), "/uploads"), []string{"png"}, 3)
	_, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"image": {"a.png", "too big"}}),
		Scope{Tenant: "db_1", Table: "t"}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

type fakeS3 struct {
	objects map[string][]byte
	headErr error
	putErr  error
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil && len(f.objects) > 0 {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestStoreS3(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{
		"project_2/orders/2024/03/07/invoice.pdf": []byte("old"),
	}}
	p := NewPipeline(NewS3StorageWithClient(client, "uploads", "https://cdn.example.com/"), []string{"pdf"}, 0).
		WithClock(func() time.Time { return fixedDay })

	batch, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"attachment": {"invoice.pdf", "new"}}),
		Scope{Tenant: "project_2", Table: "orders"}, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^https://cdn\.example\.com/project_2/orders/2024/03/07/invoice-[0-9a-f]{8}\.pdf$`, batch.URLs["attachment"])
	assert.Len(t, client.objects, 2)

	p.Discard(context.Background(), batch)
	assert.Len(t, client.objects, 1)
	assert.Contains(t, client.objects, "project_2/orders/2024/03/07/invoice.pdf", "only the batch's own objects are removed")
}

func TestStoreS3HeadFailure(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}, headErr: errors.New("access denied")}
	p := NewPipeline(NewS3StorageWithClient(client, "uploads", "https://cdn.example.com"), []string{"pdf"}, 0)

	_, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"a": {"x.pdf", "x"}}),
		Scope{Tenant: "db_1", Table: "t"}, nil)
	assert.ErrorIs(t, err, core.ErrBackend)
}

func TestStoreRemovesWrittenFilesWhenALaterOneFails(t *testing.T) {
	// The second put fails after the first object landed.
	client := &fakeS3{objects: map[string][]byte{}, putErr: errors.New("quota exceeded")}
	p := NewPipeline(NewS3StorageWithClient(client, "uploads", "https://cdn.example.com"), []string{"pdf"}, 0)

	_, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{
		"a": {"first.pdf", "1"},
		"b": {"second.pdf", "2"},
	}), Scope{Tenant: "db_1", Table: "t"}, nil)
	assert.ErrorIs(t, err, core.ErrBackend)
	assert.Empty(t, client.objects)
}

func TestDiscardLocal(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(NewLocalStorage(dir, "/uploads"), []string{"png"}, 0).WithClock(func() time.Time { return fixedDay })

	batch, err := p.Store(context.Background(), fileHeaders(t, map[string][2]string{"image": {"cat.png", "meow"}}),
		Scope{Tenant: "db_1", Table: "products"}, nil)
	require.NoError(t, err)
	stored := filepath.Join(dir, "db_1", "products", "2024", "03", "07", "cat.png")
	require.FileExists(t, stored)

	p.Discard(context.Background(), batch)
	assert.NoFileExists(t, stored)
	p.Discard(context.Background(), batch)
}
