// Package intake validates client uploads and stores them under
// system-generated names.
package intake

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"expense-backend/internal/shared/storage/object"
	"expense-backend/internal/shared/util"
)

const (
	PrefixReceipt   = "receipt"
	PrefixStatement = "statement"
)

// Upload is one file as received from the client. Filename and ContentType
// are untrusted. Size is the declared size, or -1 when unknown.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// StoredFile describes an accepted upload after it has been written.
type StoredFile struct {
	Key              string
	OriginalFilename string
	ContentType      string
	DetectedType     string
	Size             int64
	Provider         string
}

// Policy bounds what one flow accepts.
type Policy struct {
	Prefix   string
	Kinds    []Kind
	MaxBytes int64
	MaxFiles int
	// SkipSniff disables the content check against the declared type.
	SkipSniff bool
}

// DocumentPolicy accepts receipt images and PDFs.
func DocumentPolicy(maxBytes int64, maxFiles int) Policy {
	return Policy{Prefix: PrefixReceipt, Kinds: []Kind{KindImage, KindPDF}, MaxBytes: maxBytes, MaxFiles: maxFiles}
}

// StatementPolicy accepts a single bank statement PDF.
func StatementPolicy(maxBytes int64) Policy {
	return Policy{Prefix: PrefixStatement, Kinds: []Kind{KindPDF}, MaxBytes: maxBytes, MaxFiles: 1}
}

func (p Policy) allows(k Kind) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, allowed := range p.Kinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// Intake validates and stores uploads for one Policy.
type Intake struct {
	Store  object.ObjectStore
	Policy Policy

	now func() time.Time
}

// New constructs an Intake.
func New(store object.ObjectStore, policy Policy) *Intake {
	return &Intake{Store: store, Policy: policy, now: time.Now}
}

// CheckCount rejects requests carrying no files or more than MaxFiles.
func (in *Intake) CheckCount(n int) error {
	if n <= 0 {
		return reject(ReasonMissingFile, "no file provided")
	}
	if in.Policy.MaxFiles > 0 && n > in.Policy.MaxFiles {
		return reject(ReasonTooManyFiles, "at most %d files per request, got %d", in.Policy.MaxFiles, n)
	}
	return nil
}

// Validate checks the declared metadata of u. The extension and the declared
// MIME type must both be allow-listed for the same entry.
func (in *Intake) Validate(u Upload) error {
	if u.Body == nil || strings.TrimSpace(u.Filename) == "" {
		return reject(ReasonMissingFile, "file is required")
	}
	if u.Size == 0 {
		return reject(ReasonEmptyFile, "file is empty")
	}
	if in.Policy.MaxBytes > 0 && u.Size > in.Policy.MaxBytes {
		return reject(ReasonFileTooLarge, "file exceeds %d bytes", in.Policy.MaxBytes)
	}
	ext := normalizeExt(u.Filename)
	ft, ok := allowed[ext]
	if !ok || !in.Policy.allows(ft.kind) {
		return reject(ReasonUnsupportedType, "extension %q is not allowed", ext)
	}
	if mt := normalizeMIME(u.ContentType); !ft.acceptsMIME(mt) {
		return reject(ReasonUnsupportedType, "content type %q does not match %s", mt, ext)
	}
	return nil
}

// Accept validates u, sniffs its content and writes it to the store under a
// fresh name. The returned file exists in the store.
func (in *Intake) Accept(ctx context.Context, u Upload) (StoredFile, error) {
	if err := in.Validate(u); err != nil {
		return StoredFile{}, err
	}
	ext := normalizeExt(u.Filename)
	ft := allowed[ext]

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(u.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return StoredFile{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return StoredFile{}, reject(ReasonEmptyFile, "file is empty")
	}

	detected, ok := detect(head, ft.kind)
	if !in.Policy.SkipSniff && !ok {
		return StoredFile{}, reject(ReasonContentMismatch, "content looks like %s, not %s", detected, ext)
	}

	key, err := in.newKey(ext)
	if err != nil {
		return StoredFile{}, err
	}

	body := io.MultiReader(bytes.NewReader(head), u.Body)
	if in.Policy.MaxBytes > 0 {
		body = io.LimitReader(body, in.Policy.MaxBytes+1)
	}
	contentType := normalizeMIME(u.ContentType)
	written, err := in.Store.SaveWithKey(ctx, key, contentType, body)
	if err != nil {
		return StoredFile{}, fmt.Errorf("store upload: %w", err)
	}
	if in.Policy.MaxBytes > 0 && written > in.Policy.MaxBytes {
		if delErr := in.Store.Delete(ctx, key); delErr != nil {
			return StoredFile{}, fmt.Errorf("discard oversized upload %s: %w", key, delErr)
		}
		return StoredFile{}, reject(ReasonFileTooLarge, "file exceeds %d bytes", in.Policy.MaxBytes)
	}

	return StoredFile{
		Key:              key,
		OriginalFilename: util.DisplayFileName(u.Filename),
		ContentType:      contentType,
		DetectedType:     detected,
		Size:             written,
		Provider:         in.Store.Provider(),
	}, nil
}

// Discard removes a stored file whose record could not be created.
func (in *Intake) Discard(ctx context.Context, f StoredFile) error {
	if f.Key == "" {
		return nil
	}
	return in.Store.Delete(ctx, f.Key)
}

func (in *Intake) newKey(ext string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate storage name: %w", err)
	}
	now := time.Now
	if in.now != nil {
		now = in.now
	}
	prefix := in.Policy.Prefix
	if prefix == "" {
		prefix = PrefixReceipt
	}
	return fmt.Sprintf("%s_%d_%s%s", prefix, now().UnixMilli(), hex.EncodeToString(b[:]), ext), nil
}
