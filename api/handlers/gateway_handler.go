// api/handlers/gateway_handler.go
package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/auth"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/engine"
	"github.com/Annany2002/nebula-gateway/internal/permission"
	"github.com/Annany2002/nebula-gateway/internal/ratelimit"
	"github.com/Annany2002/nebula-gateway/internal/storage"
	"github.com/Annany2002/nebula-gateway/internal/upload"
)

// MethodOverrideField is the body field that turns a POST into an update or delete.
const MethodOverrideField = "_method"

const maxMultipartMemory = 32 << 20

var (
	errMissingID    = core.Errorf(core.ErrValidation, "Record id is required for this method")
	errBodyTooLarge = core.Errorf(core.ErrTooLarge, "Request body too large")
)

// GatewayHandler serves the generic table endpoints under /api/v1.
type GatewayHandler struct {
	MetaDB   *sql.DB
	Cfg      *config.Config
	Adapters *adapter.Manager
	Resolver *permission.Resolver
	Limiter  *ratelimit.Limiter
	Engine   *engine.Engine
	Uploads  *upload.Pipeline
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(metaDB *sql.DB, cfg *config.Config, adapters *adapter.Manager, resolver *permission.Resolver,
	limiter *ratelimit.Limiter, eng *engine.Engine, uploads *upload.Pipeline) *GatewayHandler {
	return &GatewayHandler{
		MetaDB:   metaDB,
		Cfg:      cfg,
		Adapters: adapters,
		Resolver: resolver,
		Limiter:  limiter,
		Engine:   eng,
		Uploads:  uploads,
	}
}

// call is one authorized, admitted request against a resolved database.
type call struct {
	principal *auth.Principal
	desc      *domain.DatabaseDescriptor
	target    engine.Target
	table     string
}

func databaseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("database_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, storage.ErrDatabaseNotFound
	}
	return id, nil
}

// begin runs the checks shared by every table request: authorize, admit,
// then resolve the descriptor and its adapter. Internal sessions skip
// authorize and admit.
func (h *GatewayHandler) begin(c *gin.Context, action domain.Action) (*call, error) {
	ctx := c.Request.Context()
	principal, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, core.Errorf(core.ErrUnauthenticated, "API key required")
	}
	dbID, err := databaseID(c)
	if err != nil {
		return nil, err
	}
	table := c.Param("table")
	if !core.IsValidIdentifier(table) {
		return nil, adapter.ErrTableNotFound
	}

	if !principal.IsInternalSession() {
		decision, err := h.Resolver.Authorize(ctx, principal.APIKey, dbID, table, action, principal.ClientIP)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, decision.Err()
		}
		if err := h.admit(c, principal); err != nil {
			return nil, err
		}
	}

	desc, target, err := h.resolve(c, dbID)
	if err != nil {
		return nil, err
	}
	return &call{principal: principal, desc: desc, target: target, table: table}, nil
}

func (h *GatewayHandler) resolve(c *gin.Context, dbID int64) (*domain.DatabaseDescriptor, engine.Target, error) {
	ctx := c.Request.Context()
	desc, err := storage.FindDatabaseDescriptor(ctx, h.MetaDB, dbID)
	if err != nil {
		return nil, engine.Target{}, err
	}
	a, err := h.Adapters.Get(ctx, desc)
	if err != nil {
		return nil, engine.Target{}, err
	}
	return desc, engine.Target{DatabaseID: desc.ID, Adapter: a}, nil
}

// admit charges one request to the key's quota and sets the X-RateLimit headers.
func (h *GatewayHandler) admit(c *gin.Context, principal *auth.Principal) error {
	res, err := h.Limiter.Admit(c.Request.Context(), principal.KeyID(), principal.APIKey.RateLimit)
	if err != nil {
		return err
	}
	if res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		return core.Errorf(core.ErrRateLimited, "Rate limit exceeded")
	}
	return nil
}

// ListTables handles GET /api/v1/:database_id.
func (h *GatewayHandler) ListTables(c *gin.Context) {
	ctx := c.Request.Context()
	principal, ok := auth.PrincipalFrom(ctx)
	if !ok {
		_ = c.Error(core.Errorf(core.ErrUnauthenticated, "API key required"))
		return
	}
	dbID, err := databaseID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !principal.IsInternalSession() {
		if err := h.admit(c, principal); err != nil {
			_ = c.Error(err)
			return
		}
	}
	_, target, err := h.resolve(c, dbID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	tables, err := h.Engine.Tables(ctx, target)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !principal.IsInternalSession() {
		tables, err = h.Resolver.VisibleTables(ctx, principal.APIKey, dbID, tables, principal.ClientIP)
		if err != nil {
			_ = c.Error(err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": tables})
}

// List handles GET /api/v1/:database_id/:table.
func (h *GatewayHandler) List(c *gin.Context) {
	opts, err := core.ParseListQueryOptions(c.Request.URL.Query())
	if err != nil {
		_ = c.Error(err)
		return
	}
	req, err := h.begin(c, domain.ActionRead)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if opts.GroupByDate != "" {
		res, err := h.Engine.GroupByDate(c.Request.Context(), req.target, req.table, opts)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	res, err := h.Engine.List(c.Request.Context(), req.target, req.table, opts)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Detail handles GET /api/v1/:database_id/:table/:id.
func (h *GatewayHandler) Detail(c *gin.Context) {
	opts, err := core.ParseListQueryOptions(c.Request.URL.Query())
	if err != nil {
		_ = c.Error(err)
		return
	}
	req, err := h.begin(c, domain.ActionRead)
	if err != nil {
		_ = c.Error(err)
		return
	}
	row, err := h.Engine.Detail(c.Request.Context(), req.target, req.table, c.Param("id"), opts.Fields)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// Create handles POST /api/v1/:database_id/:table. A _method override with
// an id field dispatches to update or delete instead.
func (h *GatewayHandler) Create(c *gin.Context) {
	body, files, err := h.readBody(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if method, ok := popMethodOverride(body); ok {
		id := ""
		if v, present := body["id"]; present && v != nil {
			id = fmt.Sprint(v)
		}
		h.dispatchOverride(c, method, id, body, files)
		return
	}
	h.create(c, body, files)
}

// Override handles POST /api/v1/:database_id/:table/:id, which must carry _method.
func (h *GatewayHandler) Override(c *gin.Context) {
	body, files, err := h.readBody(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	method, ok := popMethodOverride(body)
	if !ok {
		_ = c.Error(core.Errorf(core.ErrMethodNotAllowed, "Method not allowed"))
		return
	}
	h.dispatchOverride(c, method, c.Param("id"), body, files)
}

// Update handles PUT and PATCH /api/v1/:database_id/:table/:id.
func (h *GatewayHandler) Update(c *gin.Context) {
	body, files, err := h.readBody(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	popMethodOverride(body)
	h.update(c, c.Param("id"), body, files)
}

// Delete handles DELETE /api/v1/:database_id/:table/:id.
func (h *GatewayHandler) Delete(c *gin.Context) {
	h.remove(c, c.Param("id"))
}

// MissingID handles mutations addressed to a table instead of a record.
func (h *GatewayHandler) MissingID(c *gin.Context) {
	_ = c.Error(errMissingID)
}

func (h *GatewayHandler) dispatchOverride(c *gin.Context, method, id string, body map[string]any, files map[string]*multipart.FileHeader) {
	switch method {
	case http.MethodPut, http.MethodPatch:
		if id == "" {
			_ = c.Error(errMissingID)
			return
		}
		h.update(c, id, body, files)
	case http.MethodDelete:
		if id == "" {
			_ = c.Error(errMissingID)
			return
		}
		h.remove(c, id)
	default:
		_ = c.Error(core.Errorf(core.ErrMethodNotAllowed, "Method '%s' not allowed", method))
	}
}

func (h *GatewayHandler) create(c *gin.Context, body map[string]any, files map[string]*multipart.FileHeader) {
	req, err := h.begin(c, domain.ActionCreate)
	if err != nil {
		_ = c.Error(err)
		return
	}
	batch, err := h.mergeUploads(c, req, body, files, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	id, err := h.Engine.Create(c.Request.Context(), req.target, req.table, body)
	if err != nil {
		h.Uploads.Discard(c.Request.Context(), batch)
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
}

func (h *GatewayHandler) update(c *gin.Context, id string, body map[string]any, files map[string]*multipart.FileHeader) {
	req, err := h.begin(c, domain.ActionUpdate)
	if err != nil {
		_ = c.Error(err)
		return
	}
	batch, err := h.mergeUploads(c, req, body, files, true)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.Engine.Update(c.Request.Context(), req.target, req.table, id, body); err != nil {
		h.Uploads.Discard(c.Request.Context(), batch)
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *GatewayHandler) remove(c *gin.Context, id string) {
	req, err := h.begin(c, domain.ActionDelete)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.Engine.Delete(c.Request.Context(), req.target, req.table, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// mergeUploads stores the files whose field the write would keep and puts
// their URLs into body. Files for unknown or read-only fields are ignored,
// like the matching body keys. The caller discards the returned batch if the
// write fails.
func (h *GatewayHandler) mergeUploads(c *gin.Context, req *call, body map[string]any, files map[string]*multipart.FileHeader, update bool) (*upload.Batch, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if h.Uploads == nil {
		return nil, core.Errorf(core.ErrValidation, "File uploads are not enabled")
	}

	names := make([]string, 0, len(files))
	for field := range files {
		names = append(names, field)
	}
	keep, err := h.Engine.WritableFields(c.Request.Context(), req.target, req.table, update, names)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]*multipart.FileHeader, len(keep))
	for _, field := range keep {
		kept[field] = files[field]
	}
	if len(kept) == 0 {
		return nil, nil
	}

	batch, err := h.Uploads.Store(c.Request.Context(), kept, upload.ScopeFor(req.desc, req.table), nil)
	if err != nil {
		return nil, err
	}
	for field, url := range batch.URLs {
		body[field] = url
	}
	return batch, nil
}

func popMethodOverride(body map[string]any) (string, bool) {
	v, ok := body[MethodOverrideField]
	if !ok {
		return "", false
	}
	delete(body, MethodOverrideField)
	method := strings.ToUpper(strings.TrimSpace(fmt.Sprint(v)))
	// An explicit POST is the request's own method.
	if method == http.MethodPost {
		return "", false
	}
	return method, method != ""
}

// readBody decodes a JSON, urlencoded or multipart body into a field map.
// JSON numbers are kept as json.Number so integer columns keep full precision.
// Bodies over Cfg.MaxRequestBytes are rejected whatever their content type.
func (h *GatewayHandler) readBody(c *gin.Context) (map[string]any, map[string]*multipart.FileHeader, error) {
	if c.Request.Body != nil && h.Cfg != nil && h.Cfg.MaxRequestBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Cfg.MaxRequestBytes)
	}
	body := map[string]any{}
	switch c.ContentType() {
	case gin.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, nil, bodyError(err, "Invalid multipart request body")
		}
		files := map[string]*multipart.FileHeader{}
		for key, values := range c.Request.MultipartForm.Value {
			if len(values) > 0 {
				body[key] = values[0]
			}
		}
		for key, headers := range c.Request.MultipartForm.File {
			if len(headers) > 0 {
				files[key] = headers[0]
			}
		}
		return body, files, nil
	case gin.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			return nil, nil, bodyError(err, "Invalid form request body")
		}
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				body[key] = values[0]
			}
		}
		return body, nil, nil
	}

	if c.Request.Body == nil {
		return body, nil, nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, nil, bodyError(err, "Failed to read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return body, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, nil, core.Wrap(core.ErrValidation, err, "Invalid JSON request body: "+err.Error())
		}
		return nil, nil, core.Wrap(core.ErrValidation, err, "Request body must be a JSON object")
	}
	return body, nil, nil
}

func bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return core.Wrap(core.ErrValidation, err, message)
}
