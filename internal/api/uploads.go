package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gpahub/internal/inbox"
)

const maxUploadBytes = 50 << 20 // 50 MB

// InboxHandler accepts gradesheet uploads into the inbox, where the watcher
// picks them up.
type InboxHandler struct {
	inbox *inbox.Inbox
}

// NewInboxHandler creates a handler over in.
func NewInboxHandler(in *inbox.Inbox) *InboxHandler {
	return &InboxHandler{inbox: in}
}

// uploadForm holds the non-file fields of an upload.
type uploadForm struct {
	Program    string `json:"program"`
	Regulation string `json:"regulation"`
	Filename   string `json:"filename"`
}

func (f *uploadForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Program, validation.Required, validation.By(plainSegment)),
		validation.Field(&f.Regulation, validation.Required, validation.Match(regulationPattern).Error("must be a 4 digit year")),
		validation.Field(&f.Filename, validation.Required, validation.By(plainSegment), validation.By(textFile)),
	)
}

// plainSegment rejects anything that is not a single visible path element.
func plainSegment(value any) error {
	s, _ := value.(string)
	if s != filepath.Base(filepath.Clean(s)) || strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return fmt.Errorf("must be a plain name")
	}
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "_") {
		return fmt.Errorf("must not start with '.' or '_'")
	}
	return nil
}

func textFile(value any) error {
	s, _ := value.(string)
	if !strings.EqualFold(filepath.Ext(s), ".txt") {
		return fmt.Errorf("must be a .txt file")
	}
	return nil
}

// List handles GET /api/inbox.
//
//	@Summary		List gradesheets in the inbox
//	@Tags			inbox
//	@Produce		json
//	@Success		200	{array}		InboxFile
//	@Security		BearerAuth
//	@Router			/inbox [get]
func (h *InboxHandler) List(w http.ResponseWriter, _ *http.Request) {
	files, err := h.inbox.FS().List()
	if err != nil {
		writeError(w, "list inbox", err)
		return
	}
	out := make([]InboxFile, 0, len(files))
	for _, f := range files {
		out = append(out, InboxFile{
			Path:       f.Path,
			Program:    f.Program,
			Regulation: f.Regulation,
			Checksum:   f.Checksum,
			Ingested:   h.inbox.Processed(f.Path, f.Checksum),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Upload handles POST /api/inbox (multipart/form-data: "file", "program", "regulation").
//
//	@Summary		Drop a gradesheet text file into the inbox
//	@Tags			inbox
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Gradesheet text"
//	@Param			program		formData	string	true	"Program name"
//	@Param			regulation	formData	string	true	"Regulation year"
//	@Success		202			{object}	InboxUploadResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/inbox [post]
func (h *InboxHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	form := uploadForm{
		Program:    strings.TrimSpace(r.FormValue("program")),
		Regulation: strings.TrimSpace(r.FormValue("regulation")),
		Filename:   header.Filename,
	}
	if !validate(w, &form) {
		return
	}

	var buf bytes.Buffer
	written, err := io.Copy(&buf, file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	rel := path.Join(form.Program, form.Regulation, form.Filename)
	if err := h.inbox.FS().Write(filepath.FromSlash(rel), buf.Bytes()); err != nil {
		writeError(w, "inbox upload", err)
		return
	}

	writeJSON(w, http.StatusAccepted, InboxUploadResponse{Path: rel, Size: written})
}
