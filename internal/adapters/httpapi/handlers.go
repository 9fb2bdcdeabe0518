package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"erpcore/internal/blob"
	"erpcore/internal/hierarchy"
	"erpcore/pkg/domain"
)

type tableView struct {
	domain.TableSpec
	Access string `json:"access"`
}

func accessName(p domain.Permission) string {
	switch p {
	case domain.PermWrite:
		return "write"
	case domain.PermRead:
		return "read"
	default:
		return "none"
	}
}

// listTables returns the catalog annotated with the caller's access level.
func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	actor, hasActor := domain.ActorFrom(r.Context())
	specs := domain.Catalog()
	views := make([]tableView, 0, len(specs))
	for _, s := range specs {
		perm := domain.PermNone
		if hasActor {
			perm = domain.Access(actor.Role, s.Module)
		}
		views = append(views, tableView{TableSpec: s, Access: accessName(perm)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": views})
}

func (h *Handler) listRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.List(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) getRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.Get(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"row": row})
}

func (h *Handler) createRow(w http.ResponseWriter, r *http.Request) {
	var fields domain.Record
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid row payload")
		return
	}
	row, err := h.svc.Create(r.Context(), chi.URLParam(r, "table"), fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"row": row})
}

func (h *Handler) updateRow(w http.ResponseWriter, r *http.Request) {
	var changes domain.Record
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid row payload")
		return
	}
	name, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	if err := h.svc.Update(r.Context(), name, id, changes); err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := h.svc.Get(r.Context(), name, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"row": row})
}

func (h *Handler) deleteRow(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	Positions []domain.Position `json:"positions"`
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid reorder payload")
		return
	}
	if err := h.svc.Reorder(r.Context(), chi.URLParam(r, "table"), req.Positions); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) orderTree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.svc.OrderTree(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roots == nil {
		roots = []hierarchy.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roots": roots})
}

func (h *Handler) checkBusinessNumber(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := h.svc.CheckBusinessNumber(r.Context(), q.Get("value"), q.Get("exclude"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) listAttachments(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Get(r.Context(), domain.TableOrders, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list := domain.AttachmentsOf(order)
	if list == nil {
		list = []domain.Attachment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": list})
}

func (h *Handler) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Sprintf("attachment exceeds %d bytes", MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" required")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(header.Filename))
	}
	att, err := h.svc.Attach(r.Context(), chi.URLParam(r, "id"), header.Filename, contentType, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": att})
}

func (h *Handler) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "key is required")
		return
	}
	orderID := chi.URLParam(r, "id")
	order, err := h.svc.Get(r.Context(), domain.TableOrders, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := path.Base(key)
	for _, a := range domain.AttachmentsOf(order) {
		if a.Key == key {
			name = a.Name
		}
	}
	info, rc, err := h.svc.OpenAttachment(r.Context(), orderID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	streamBlob(w, info, rc, name)
}

type exportRequest struct {
	Format string `json:"format"`
}

func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "exports not enabled")
		return
	}
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid export payload")
		return
	}
	if f := strings.ToLower(strings.TrimSpace(req.Format)); f != "" && f != "csv" {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "unsupported export format")
		return
	}
	rec, err := h.exports.Enqueue(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": rec})
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "exports not enabled")
		return
	}
	rec, ok := h.exports.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": rec})
}

// downloadExport streams a finished CSV. The caller needs read access to the
// exported table.
func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "exports not enabled")
		return
	}
	rec, ok := h.exports.Get(chi.URLParam(r, "id"))
	if !ok || rec.Artifact == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "export not ready")
		return
	}
	spec, ok := domain.LookupTable(rec.Table)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "export not found")
		return
	}
	if msg, ok := domain.Authorize(r.Context(), spec.Module, domain.PermRead); !ok {
		h.fail(w, r, &domain.AuthorizationError{Message: msg})
		return
	}
	store := h.svc.Blobs()
	if store == nil {
		h.fail(w, r, errors.New("blob store not configured"))
		return
	}
	info, rc, err := store.Get(r.Context(), rec.Artifact.Key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	streamBlob(w, info, rc, rec.Table+"-"+rec.ID+".csv")
}

func streamBlob(w http.ResponseWriter, info blob.Info, rc io.ReadCloser, filename string) {
	defer func() { _ = rc.Close() }()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
