// Package upload stores files attached to mutation requests and returns the
// public URL of each, to be merged into the row being written.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/logger"
)

var customLog = logger.NewLogger()

// Storage is where uploaded files end up. Keys are slash-separated relative paths.
type Storage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, body io.Reader, size int64, contentType string) (publicURL string, err error)
	Delete(ctx context.Context, key string) error
}

// Batch is the outcome of one Store call.
type Batch struct {
	URLs map[string]string // field name to public URL
	keys []string
}

// Scope places files of one tenant and table in their own directory tree.
type Scope struct {
	Tenant string
	Table  string
}

// ScopeFor returns the scope of a table, keyed by the database's project when
// it has one.
func ScopeFor(desc *domain.DatabaseDescriptor, table string) Scope {
	tenant := fmt.Sprintf("db_%d", desc.ID)
	if desc.ProjectID != nil {
		tenant = fmt.Sprintf("project_%d", *desc.ProjectID)
	}
	return Scope{Tenant: tenant, Table: core.SanitizeIdentifier(table)}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxCollisionAttempts = 5

// Pipeline validates and stores uploaded files.
type Pipeline struct {
	storage  Storage
	allowed  []string
	maxBytes int64
	now      func() time.Time
}

// NewPipeline returns a pipeline with a default extension allow-list. A
// maxBytes of 0 disables the size check.
func NewPipeline(storage Storage, allowed []string, maxBytes int64) *Pipeline {
	return &Pipeline{storage: storage, allowed: normalizeExtensions(allowed), maxBytes: maxBytes, now: time.Now}
}

// WithClock replaces the clock used for the date segments.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// SanitizeFilename keeps a safe base name and a lower-cased extension.
func SanitizeFilename(name string) (base, ext string) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext = strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	base = strings.TrimSuffix(name, path.Ext(name))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "_.-")
	if base == "" {
		base = "file"
	}
	if len(base) > 100 {
		base = base[:100]
	}
	return base, ext
}

// Store validates every file against the allow-list, then writes each under
// {tenant}/{table}/{YYYY}/{MM}/{DD}/ and returns field name to public URL.
// A nil allowed uses the pipeline's default list. Nothing is written if any
// file is rejected, and files already written are removed if a later one
// fails to store.
func (p *Pipeline) Store(ctx context.Context, files map[string]*multipart.FileHeader, scope Scope, allowed []string) (*Batch, error) {
	batch := &Batch{URLs: map[string]string{}}
	if len(files) == 0 {
		return batch, nil
	}
	exts := p.allowed
	if allowed != nil {
		exts = normalizeExtensions(allowed)
	}

	fields := make([]string, 0, len(files))
	for field, fh := range files {
		_, ext := SanitizeFilename(fh.Filename)
		if !contains(exts, ext) {
			return nil, core.Errorf(core.ErrValidation, "File type '.%s' is not allowed for field '%s'", ext, field)
		}
		if p.maxBytes > 0 && fh.Size > p.maxBytes {
			return nil, core.Errorf(core.ErrValidation, "File for field '%s' exceeds the %d byte limit", field, p.maxBytes)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	now := p.now().UTC()
	dir := path.Join(scope.Tenant, scope.Table, now.Format("2006"), now.Format("01"), now.Format("02"))

	for _, field := range fields {
		key, url, err := p.storeOne(ctx, dir, files[field])
		if err != nil {
			p.Discard(ctx, batch)
			return nil, err
		}
		batch.URLs[field] = url
		batch.keys = append(batch.keys, key)
	}
	return batch, nil
}

// Discard removes the files of a batch whose row was never written. Failures
// are logged, not returned.
func (p *Pipeline) Discard(ctx context.Context, batch *Batch) {
	if batch == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range batch.keys {
		if err := p.storage.Delete(ctx, key); err != nil {
			customLog.Warnf("Upload: Failed to remove orphaned upload %s: %v", key, err)
			continue
		}
		customLog.Debugf("Upload: Removed orphaned upload %s", key)
	}
	batch.keys = nil
}

func (p *Pipeline) storeOne(ctx context.Context, dir string, fh *multipart.FileHeader) (key, url string, err error) {
	base, ext := SanitizeFilename(fh.Filename)
	key, err = p.freeKey(ctx, dir, base, ext)
	if err != nil {
		return "", "", err
	}

	f, err := fh.Open()
	if err != nil {
		return "", "", core.Wrap(core.ErrValidation, err, "Failed to read uploaded file")
	}
	defer f.Close()

	url, err = p.storage.Save(ctx, key, f, fh.Size, fh.Header.Get("Content-Type"))
	if err != nil {
		customLog.Warnf("Upload: Failed to store %s: %v", key, err)
		return "", "", core.Wrap(core.ErrBackend, err, "Failed to store uploaded file")
	}
	customLog.Debugf("Upload: Stored %s (%d bytes)", key, fh.Size)
	return key, url, nil
}

// freeKey returns dir/base.ext, or dir/base-xxxxxxxx.ext when that is taken.
func (p *Pipeline) freeKey(ctx context.Context, dir, base, ext string) (string, error) {
	key := path.Join(dir, base+"."+ext)
	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		exists, err := p.storage.Exists(ctx, key)
		if err != nil {
			return "", core.Wrap(core.ErrBackend, err, "Failed to check upload destination")
		}
		if !exists {
			return key, nil
		}
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		key = path.Join(dir, base+"-"+suffix+"."+ext)
	}
	return "", core.Errorf(core.ErrConflict, "Could not find a free name for upload '%s.%s'", base, ext)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
